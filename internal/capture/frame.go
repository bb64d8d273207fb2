// Package capture reads trigger edges timestamped by an external
// microcontroller and delivers them to the decoders as if they came from
// local GPIO lines.
//
// Each edge is one fixed size frame:
//
//	0xA5 | pin | level | time (uint32, little endian) | xor
//
// The checksum is the xor of every byte between the sync byte and itself.
package capture

import (
	"encoding/binary"
	"errors"
)

const (
	// Sync starts every frame.
	Sync = 0xA5
	// FrameSize is the encoded length of one frame.
	FrameSize = 8
)

var (
	ErrSync     = errors.New("capture: frame does not start with sync byte")
	ErrChecksum = errors.New("capture: frame checksum mismatch")
	ErrShort    = errors.New("capture: short frame")
)

// Frame is one edge reported by the capture MCU.
type Frame struct {
	Pin  int
	High bool
	Time uint32 // MCU microseconds
}

func checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// AppendFrame appends the encoding of f to b.
func AppendFrame(b []byte, f Frame) []byte {
	start := len(b)
	var level byte
	if f.High {
		level = 1
	}
	b = append(b, Sync, byte(f.Pin), level)
	b = binary.LittleEndian.AppendUint32(b, f.Time)
	return append(b, checksum(b[start+1:]))
}

// DecodeFrame decodes the first FrameSize bytes of b.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FrameSize {
		return Frame{}, ErrShort
	}
	if b[0] != Sync {
		return Frame{}, ErrSync
	}
	if checksum(b[1:FrameSize-1]) != b[FrameSize-1] {
		return Frame{}, ErrChecksum
	}
	return Frame{
		Pin:  int(b[1]),
		High: b[2] != 0,
		Time: binary.LittleEndian.Uint32(b[3:7]),
	}, nil
}

// Parser reassembles frames from a byte stream that may split them
// arbitrarily. Bytes ahead of a sync byte are skipped.
type Parser struct {
	buf [FrameSize]byte
	n   int

	// Frames and Bad count good and rejected frames.
	Frames uint64
	Bad    uint64
}

// Feed consumes data and calls emit for every complete, valid frame.
func (p *Parser) Feed(data []byte, emit func(Frame)) {
	for _, b := range data {
		if p.n == 0 && b != Sync {
			continue
		}
		p.buf[p.n] = b
		p.n++
		if p.n < FrameSize {
			continue
		}
		f, err := DecodeFrame(p.buf[:])
		if err != nil {
			p.Bad++
			p.resync()
			continue
		}
		p.n = 0
		p.Frames++
		emit(f)
	}
}

// resync drops a bad frame, keeping any later sync byte as the start of
// the next one.
func (p *Parser) resync() {
	for i := 1; i < FrameSize; i++ {
		if p.buf[i] == Sync {
			p.n = copy(p.buf[:], p.buf[i:])
			return
		}
	}
	p.n = 0
}
