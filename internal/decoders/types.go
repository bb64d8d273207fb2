package decoders

import "fmt"

// ID identifies a trigger wheel pattern. The values are stored in the
// configuration page and exchanged with tuning tools, so they never change.
type ID uint8

const (
	MissingTooth ID = iota
	BasicDistributor
	DualWheel
	GM7X
	FourG63
	GM24X
	Jeep2000
	Audi135
	HondaD17
	Miata9905
	MazdaAU
	Non360
	Nissan360
	Subaru67
	DaihatsuPlus1
	Harley
	ThirtySixMinus222
	ThirtySixMinus21
	Chrysler420A
	Weber
	FordST170
	DRZ400
	ChryslerNGC
	YamahaVmax
	Renix
	RoverMEMS
	SuzukiK6A
	HondaJ32
	FordTFI
	Subaru7CrankOnly
)

var idNames = [...]string{
	"missing tooth", "basic distributor", "dual wheel", "GM 7X", "4G63",
	"GM 24X", "Jeep 2000", "Audi 135", "Honda D17", "Miata 99-05",
	"Mazda AU", "non-360 dual", "Nissan 360", "Subaru 6/7", "Daihatsu +1",
	"Harley", "36-2-2-2", "36-2-1", "Chrysler 420A", "Weber-Marelli",
	"Ford ST170", "DRZ400", "Chrysler NGC", "Yamaha Vmax", "Renix",
	"Rover MEMS", "Suzuki K6A", "Honda J32", "Ford TFI", "Subaru 7 crank",
}

func (id ID) String() string {
	if int(id) < len(idNames) {
		return idNames[id]
	}
	return fmt.Sprintf("unknown(%d)", uint8(id))
}

// Speed is the rotational speed of the primary trigger wheel.
type Speed uint8

const (
	CrankSpeed Speed = iota
	CamSpeed
)

// SecondaryPattern is the cam wheel layout used with missing tooth and
// Chrysler NGC primaries.
type SecondaryPattern uint8

const (
	SecSingle SecondaryPattern = iota
	Sec4Minus1
	SecPoll
	Sec532
	SecToyota3
)

// NGC cam wheels share the secondary pattern setting.
const (
	SecNGC4  = SecSingle
	SecNGC68 = Sec4Minus1
)

// FilterLevel scales the adaptive primary debounce window.
type FilterLevel uint8

const (
	FilterOff FilterLevel = iota
	FilterLite
	FilterMedium
	FilterAggressive
)

// SparkMode is the ignition output layout.
type SparkMode uint8

const (
	SparkWasted SparkMode = iota
	SparkSingle
	SparkWastedCOP
	SparkSequential
	SparkRotary
)

// InjLayout is the injector output layout.
type InjLayout uint8

const (
	InjPaired InjLayout = iota
	InjSemiSequential
	InjBanked
	InjSequential
)

// Strokes is the engine cycle type.
type Strokes uint8

const (
	FourStroke Strokes = iota
	TwoStroke
)

// Config is the part of the engine configuration the decoders read. It is
// consulted by the setup of a pattern and, for tunable values such as the
// trigger angle, on every call.
type Config struct {
	Pattern ID

	TriggerTeeth  uint16
	MissingTeeth  uint16
	TriggerAngle  int16
	TrigSpeed     Speed
	TrigEdge      Edge
	TrigEdgeSec   Edge
	TrigEdgeThird Edge
	// TrigAngMul scales the tooth angle of non-360 dual wheels.
	TrigAngMul uint8
	SecPattern SecondaryPattern
	// PollLevelHigh is the cam level that marks the first revolution when
	// the secondary is polled.
	PollLevelHigh bool
	Filter        FilterLevel
	UseResync     bool
	// StgCycles is the number of revolutions before the calculated RPM is
	// trusted over the cranking estimate.
	StgCycles uint8
	CrankRPM  uint16

	SparkMode   SparkMode
	InjLayout   InjLayout
	Cylinders   uint8
	Strokes     Strokes
	PerToothIgn bool

	// IgnCrankLock fires the coils on the trigger teeth while cranking.
	IgnCrankLock bool

	VVTEnabled       bool
	VVTClosedLoop    bool
	VVTCL0DutyAngle  int16
	VVT2CL0DutyAngle int16
	VVTCLMinAngle    int16
	AngleFilterVVT   uint8
	VVT2Enabled      bool // tertiary input carries the exhaust cam
}

// DefaultConfig is a 36-1 crank wheel on a four cylinder wasted spark
// engine.
func DefaultConfig() Config {
	return Config{
		Pattern:      MissingTooth,
		TriggerTeeth: 36,
		MissingTeeth: 1,
		TrigEdge:     EdgeRising,
		TrigEdgeSec:  EdgeRising,
		StgCycles:    2,
		CrankRPM:     400,
		SparkMode:    SparkWasted,
		InjLayout:    InjPaired,
		Cylinders:    4,
		Strokes:      FourStroke,
	}
}

// EngineStatus is the engine state the decoders share with the rest of
// the system.
type EngineStatus struct {
	RPM              uint16
	StartRevolutions uint32
	HasSync          bool
	HalfSync         bool
	SyncLossCounter  uint8
	Cranking         bool
	Advance          int8
	VVT1Angle        int16
	VVT2Angle        int16
	ToothLogEnabled  bool
}
