// Package config stores the engine configuration page in non-volatile
// storage.
//
// The page is a fixed little endian layout behind a magic and a version
// byte, closed by an xor checksum. Fields are only ever appended; a new
// field bumps Version.
package config

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sweeney/ecu-trigger/internal/decoders"
	"github.com/sweeney/ecu-trigger/internal/storage"
)

// Version is the page layout written by Save.
const Version = 1

// PageSize is the encoded length of the page.
const PageSize = 35

var magic = [4]byte{'E', 'C', 'U', 'T'}

var (
	ErrNoPage   = errors.New("config: no page in storage")
	ErrVersion  = errors.New("config: unsupported page version")
	ErrChecksum = errors.New("config: page checksum mismatch")

	ErrInvalidPattern   = errors.New("config: invalid trigger pattern")
	ErrInvalidTeeth     = errors.New("config: invalid tooth count")
	ErrInvalidCylinders = errors.New("config: invalid cylinder count")
	ErrInvalidEdge      = errors.New("config: invalid trigger edge")
	ErrInvalidMode      = errors.New("config: invalid output or wheel mode")
)

const (
	flagPollLevelHigh = 1 << iota
	flagUseResync
	flagPerToothIgn
	flagIgnCrankLock
	flagVVTEnabled
	flagVVTClosedLoop
	flagVVT2Enabled
)

// Validate checks cfg for values no decoder can run with.
func Validate(cfg decoders.Config) error {
	if cfg.Pattern > decoders.Subaru7CrankOnly {
		return fmt.Errorf("%w: %d", ErrInvalidPattern, cfg.Pattern)
	}
	switch cfg.Pattern {
	case decoders.MissingTooth, decoders.DualWheel, decoders.Non360:
		if cfg.TriggerTeeth == 0 || cfg.MissingTeeth >= cfg.TriggerTeeth {
			return fmt.Errorf("%w: %d-%d", ErrInvalidTeeth, cfg.TriggerTeeth, cfg.MissingTeeth)
		}
	}
	if cfg.Cylinders == 0 || cfg.Cylinders > 8 {
		return fmt.Errorf("%w: %d", ErrInvalidCylinders, cfg.Cylinders)
	}
	for _, e := range []decoders.Edge{cfg.TrigEdge, cfg.TrigEdgeSec} {
		if e != decoders.EdgeRising && e != decoders.EdgeFalling && e != decoders.EdgeChange {
			return fmt.Errorf("%w: %d", ErrInvalidEdge, e)
		}
	}
	if cfg.TrigSpeed > decoders.CamSpeed || cfg.SparkMode > decoders.SparkRotary ||
		cfg.InjLayout > decoders.InjSequential || cfg.Strokes > decoders.TwoStroke ||
		cfg.Filter > decoders.FilterAggressive || cfg.SecPattern > decoders.SecToyota3 {
		return ErrInvalidMode
	}
	return nil
}

// Encode returns the page for cfg.
func Encode(cfg decoders.Config) []byte {
	b := make([]byte, 0, PageSize)
	b = append(b, magic[:]...)
	b = append(b, Version, byte(cfg.Pattern))
	b = binary.LittleEndian.AppendUint16(b, cfg.TriggerTeeth)
	b = binary.LittleEndian.AppendUint16(b, cfg.MissingTeeth)
	b = binary.LittleEndian.AppendUint16(b, uint16(cfg.TriggerAngle))
	b = append(b,
		byte(cfg.TrigSpeed),
		byte(cfg.TrigEdge),
		byte(cfg.TrigEdgeSec),
		byte(cfg.TrigEdgeThird),
		cfg.TrigAngMul,
		byte(cfg.SecPattern),
		packFlags(cfg),
		byte(cfg.Filter),
		cfg.StgCycles,
	)
	b = binary.LittleEndian.AppendUint16(b, cfg.CrankRPM)
	b = append(b, byte(cfg.SparkMode), byte(cfg.InjLayout), cfg.Cylinders, byte(cfg.Strokes))
	b = binary.LittleEndian.AppendUint16(b, uint16(cfg.VVTCL0DutyAngle))
	b = binary.LittleEndian.AppendUint16(b, uint16(cfg.VVT2CL0DutyAngle))
	b = binary.LittleEndian.AppendUint16(b, uint16(cfg.VVTCLMinAngle))
	b = append(b, cfg.AngleFilterVVT)
	return append(b, checksum(b))
}

// Decode parses a page. It does not validate the values.
func Decode(b []byte) (decoders.Config, error) {
	var cfg decoders.Config
	if len(b) < PageSize || [4]byte(b[:4]) != magic {
		return cfg, ErrNoPage
	}
	if b[4] != Version {
		return cfg, fmt.Errorf("%w: %d", ErrVersion, b[4])
	}
	if checksum(b[:PageSize-1]) != b[PageSize-1] {
		return cfg, ErrChecksum
	}
	le := binary.LittleEndian
	cfg.Pattern = decoders.ID(b[5])
	cfg.TriggerTeeth = le.Uint16(b[6:])
	cfg.MissingTeeth = le.Uint16(b[8:])
	cfg.TriggerAngle = int16(le.Uint16(b[10:]))
	cfg.TrigSpeed = decoders.Speed(b[12])
	cfg.TrigEdge = decoders.Edge(b[13])
	cfg.TrigEdgeSec = decoders.Edge(b[14])
	cfg.TrigEdgeThird = decoders.Edge(b[15])
	cfg.TrigAngMul = b[16]
	cfg.SecPattern = decoders.SecondaryPattern(b[17])
	unpackFlags(&cfg, b[18])
	cfg.Filter = decoders.FilterLevel(b[19])
	cfg.StgCycles = b[20]
	cfg.CrankRPM = le.Uint16(b[21:])
	cfg.SparkMode = decoders.SparkMode(b[23])
	cfg.InjLayout = decoders.InjLayout(b[24])
	cfg.Cylinders = b[25]
	cfg.Strokes = decoders.Strokes(b[26])
	cfg.VVTCL0DutyAngle = int16(le.Uint16(b[27:]))
	cfg.VVT2CL0DutyAngle = int16(le.Uint16(b[29:]))
	cfg.VVTCLMinAngle = int16(le.Uint16(b[31:]))
	cfg.AngleFilterVVT = b[33]
	return cfg, nil
}

// Load reads and validates the page at the start of s.
func Load(s storage.Storage) (decoders.Config, error) {
	b, err := storage.ReadBlock(s, 0, PageSize)
	if err != nil {
		return decoders.Config{}, fmt.Errorf("read config page: %w", err)
	}
	cfg, err := Decode(b)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save validates cfg and writes the bytes of the page that changed. It
// returns the number of bytes written.
func Save(s storage.Storage, cfg decoders.Config) (int, error) {
	if err := Validate(cfg); err != nil {
		return 0, err
	}
	n, err := storage.UpdateBlock(s, 0, Encode(cfg))
	if err != nil {
		return n, fmt.Errorf("write config page: %w", err)
	}
	return n, nil
}

func checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

func packFlags(cfg decoders.Config) byte {
	var f byte
	set := func(on bool, bit byte) {
		if on {
			f |= bit
		}
	}
	set(cfg.PollLevelHigh, flagPollLevelHigh)
	set(cfg.UseResync, flagUseResync)
	set(cfg.PerToothIgn, flagPerToothIgn)
	set(cfg.IgnCrankLock, flagIgnCrankLock)
	set(cfg.VVTEnabled, flagVVTEnabled)
	set(cfg.VVTClosedLoop, flagVVTClosedLoop)
	set(cfg.VVT2Enabled, flagVVT2Enabled)
	return f
}

func unpackFlags(cfg *decoders.Config, f byte) {
	cfg.PollLevelHigh = f&flagPollLevelHigh != 0
	cfg.UseResync = f&flagUseResync != 0
	cfg.PerToothIgn = f&flagPerToothIgn != 0
	cfg.IgnCrankLock = f&flagIgnCrankLock != 0
	cfg.VVTEnabled = f&flagVVTEnabled != 0
	cfg.VVTClosedLoop = f&flagVVTClosedLoop != 0
	cfg.VVT2Enabled = f&flagVVT2Enabled != 0
}
