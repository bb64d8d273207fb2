package decoders

// Flags is the set of per-decoder state bits.
type Flags uint8

const (
	FlagValidTrigger Flags = 1 << iota
	FlagToothAngleCorrect
	FlagIsSequential
	FlagHasSecondary
	FlagHasFixedCranking
	FlagSecondDerivative
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }
func (f *Flags) Set(bit Flags)     { *f |= bit }
func (f *Flags) Clear(bit Flags)   { *f &^= bit }

// SetTo sets or clears bit.
func (f *Flags) SetTo(bit Flags, on bool) {
	if on {
		f.Set(bit)
	} else {
		f.Clear(bit)
	}
}

// toothAnglesSize is large enough for the GM 24X table.
const toothAnglesSize = 24

// State is the tooth bookkeeping shared by every pattern. Only trigger
// handlers write it; main loop readers hold the guard.
type State struct {
	CurTime, CurGap   uint32
	CurTime2, CurGap2 uint32
	CurTime3, CurGap3 uint32
	LastGap           uint32
	TargetGap         uint32
	TargetGap2        uint32
	TargetGap3        uint32

	// MaxStallTime is how long without a primary tooth before the engine
	// is considered stopped.
	MaxStallTime uint32

	ToothCurrentCount             uint16
	ToothSystemCount              uint8
	ToothSystemLastToothTime      uint32
	ToothLastToothTime            uint32
	ToothLastMinusOneToothTime    uint32
	ToothLastSecToothTime         uint32
	ToothLastMinusOneSecToothTime uint32
	ToothLastThirdToothTime       uint32
	ToothLastToothRisingTime      uint32
	ToothLastSecToothRisingTime   uint32
	ToothOneTime                  uint32
	ToothOneMinusOneTime          uint32

	LastSyncRevolution uint32
	RevolutionOne      bool
	RevolutionLastOne  bool

	SecondaryToothCount     uint16
	SecondaryLastToothCount uint16
	SecondaryLastToothTime  uint32
	SecondaryLastToothTime1 uint32
	ThirdToothCount         uint16

	TriggerActualTeeth     uint16
	TriggerFilterTime      uint32
	TriggerSecFilterTime   uint32
	TriggerThirdFilterTime uint32
	// TriggerSecFilterTimeDuration is the shortest valid secondary pulse.
	TriggerSecFilterTimeDuration uint32
	TriggerToothAngle            uint16
	CheckSyncToothCount          uint16

	ElapsedTime        uint32
	LastCrankAngleCalc uint32
	LastVVTTime        uint32

	Flags       Flags
	ToothAngles [toothAnglesSize]int16
}

const defaultMaxStallTime = 500000

func (s *State) clear() {
	*s = State{MaxStallTime: defaultMaxStallTime}
}

// toothAngle returns the table angle of tooth n, counted from 1. Teeth
// outside the table read as 0.
func (s *State) toothAngle(n uint16) int {
	if n == 0 || int(n) > len(s.ToothAngles) {
		return 0
	}
	return int(s.ToothAngles[n-1])
}

// shiftToothTimes records now as the latest primary tooth.
func (s *State) shiftToothTimes(now uint32) {
	s.ToothLastMinusOneToothTime = s.ToothLastToothTime
	s.ToothLastToothTime = now
}

// markToothOne records now as the latest revolution reference.
func (s *State) markToothOne(now uint32) {
	s.ToothOneMinusOneTime = s.ToothOneTime
	s.ToothOneTime = now
}
