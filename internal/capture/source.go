package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/sweeney/ecu-trigger/internal/decoders"
)

// DefaultBaud is the capture MCU's default line rate.
const DefaultBaud = 921600

// Source implements decoders.Inputs over a capture stream. Run reads the
// stream and calls the attached handlers from its own goroutine.
type Source struct {
	r io.ReadCloser
	// eofIsTimeout is set for serial ports, whose reads return io.EOF when
	// the read timeout expires with no data.
	eofIsTimeout bool

	mu       sync.Mutex
	handlers map[int]handler
	levels   map[int]bool
	parser   Parser
	// lastTime is the MCU timestamp of the latest frame, received at lastAt.
	lastTime uint32
	lastAt   time.Time
}

type handler struct {
	edge decoders.Edge
	fn   func(now uint32)
}

// New returns a Source reading frames from r. Run returns when r reports
// io.EOF.
func New(r io.ReadCloser) *Source {
	return &Source{
		r:        r,
		handlers: make(map[int]handler),
		levels:   make(map[int]bool),
	}
}

// OpenSerial opens the capture MCU on device.
func OpenSerial(device string, baud int) (*Source, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	s := New(port)
	s.eofIsTimeout = true
	return s, nil
}

// Attach registers handler for edges on pin.
func (s *Source) Attach(pin int, edge decoders.Edge, fn func(now uint32)) error {
	if pin < 0 || pin > 0xFF {
		return fmt.Errorf("capture pin %d out of range", pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[pin] = handler{edge: edge, fn: fn}
	return nil
}

// Detach removes the handler on pin.
func (s *Source) Detach(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, pin)
	return nil
}

// Read returns the last level reported for pin.
func (s *Source) Read(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Micros returns the MCU clock: the latest frame time plus the host time
// elapsed since it arrived. Zero until the first frame.
func (s *Source) Micros() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAt.IsZero() {
		return 0
	}
	return s.lastTime + uint32(time.Since(s.lastAt).Microseconds())
}

// Stats returns the number of good and rejected frames.
func (s *Source) Stats() (frames, bad uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parser.Frames, s.parser.Bad
}

// Run reads frames until ctx is cancelled, the stream ends or a read
// fails. Pins start low and a level that does not change is not an edge.
func (s *Source) Run(ctx context.Context) error {
	buf := make([]byte, 64*FrameSize)
	var lastBad uint64
	for ctx.Err() == nil {
		n, err := s.r.Read(buf)
		if n > 0 {
			var frames []Frame
			s.mu.Lock()
			s.parser.Feed(buf[:n], func(f Frame) { frames = append(frames, f) })
			bad := s.parser.Bad
			s.mu.Unlock()
			for _, f := range frames {
				s.dispatch(f)
			}
			if bad != lastBad {
				log.Printf("capture: dropped %d bad frames", bad-lastBad)
				lastBad = bad
			}
		}
		if errors.Is(err, io.EOF) {
			if s.eofIsTimeout {
				continue
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture stream: %w", err)
		}
	}
	return nil
}

func (s *Source) dispatch(f Frame) {
	s.mu.Lock()
	prev := s.levels[f.Pin]
	s.levels[f.Pin] = f.High
	s.lastTime = f.Time
	s.lastAt = time.Now()
	h, ok := s.handlers[f.Pin]
	s.mu.Unlock()

	if !ok || prev == f.High {
		return
	}
	if h.edge.Matches(f.High) {
		h.fn(f.Time)
	}
}

// Close closes the underlying stream.
func (s *Source) Close() error {
	if err := s.r.Close(); err != nil {
		return fmt.Errorf("close capture stream: %w", err)
	}
	return nil
}
