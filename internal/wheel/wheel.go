// Package wheel generates the edge stream of a spinning trigger wheel at a
// constant speed. It feeds the simulator and the end to end tests.
package wheel

import (
	"fmt"
	"math"
	"slices"

	"github.com/sweeney/ecu-trigger/internal/decoders"
)

// Channel is the trigger input an edge arrives on.
type Channel uint8

const (
	Primary Channel = iota
	Secondary
)

// Edge is one level change of a trigger input.
type Edge struct {
	Channel Channel
	High    bool
	Time    uint32 // microseconds
}

// Wheel describes a crank or cam wheel and an optional cam sensor.
type Wheel struct {
	Teeth    int // tooth positions per wheel revolution, including missing ones
	Missing  int // missing teeth at the end of the wheel
	Span     int // crank degrees per wheel revolution: 360 on the crank, 720 on the cam
	CamTeeth int // evenly spaced cam pulses per 720 degree cycle
	CamAngle int // crank angle of the first cam pulse after tooth #1
}

// ForPattern returns the wheel a decoder pattern expects for cfg.
func ForPattern(id decoders.ID, cfg decoders.Config) (Wheel, error) {
	span := 360
	if cfg.TrigSpeed == decoders.CamSpeed {
		span = 720
	}
	switch id {
	case decoders.MissingTooth:
		w := Wheel{Teeth: int(cfg.TriggerTeeth), Missing: int(cfg.MissingTeeth), Span: span}
		sequential := cfg.SparkMode == decoders.SparkSequential || cfg.InjLayout == decoders.InjSequential
		if span == 360 && sequential {
			w.CamTeeth = 1
			w.CamAngle = 180
		}
		return w, w.validate()
	case decoders.DualWheel:
		w := Wheel{Teeth: int(cfg.TriggerTeeth), Span: span, CamTeeth: 1}
		if w.Teeth > 0 {
			// Just ahead of tooth #1 of the next cycle.
			w.CamAngle = 720 - span/w.Teeth/2
		}
		return w, w.validate()
	case decoders.BasicDistributor:
		w := Wheel{Teeth: int(cfg.Cylinders), Span: 720}
		if cfg.Strokes == decoders.TwoStroke {
			w.Span = 360
		}
		return w, w.validate()
	}
	return Wheel{}, fmt.Errorf("no wheel generator for pattern %s", id)
}

func (w Wheel) validate() error {
	if w.Teeth <= 0 || w.Missing < 0 || w.Missing >= w.Teeth {
		return fmt.Errorf("invalid wheel %d-%d", w.Teeth, w.Missing)
	}
	if w.Span != 360 && w.Span != 720 {
		return fmt.Errorf("invalid wheel span %d", w.Span)
	}
	return nil
}

// Pitch returns the crank angle between adjacent tooth positions.
func (w Wheel) Pitch() float64 {
	return float64(w.Span) / float64(w.Teeth)
}

// Generate returns the edges of cycles 720 degree engine cycles at rpm,
// starting with tooth #1 at start. Each tooth is a pulse half a pitch wide;
// cam pulses are a quarter of a pitch wide. Edges are in time order.
func (w Wheel) Generate(rpm, cycles int, start uint32) ([]Edge, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if rpm <= 0 {
		return nil, fmt.Errorf("invalid rpm %d", rpm)
	}
	usPerDeg := 60e6 / float64(rpm) / 360
	at := func(deg float64) uint32 {
		return start + uint32(math.Round(deg*usPerDeg))
	}

	pitch := w.Pitch()
	var edges []Edge
	revs := cycles * 720 / w.Span
	for r := 0; r < revs; r++ {
		for k := 0; k < w.Teeth-w.Missing; k++ {
			deg := float64(r*w.Span) + float64(k)*pitch
			edges = append(edges,
				Edge{Channel: Primary, High: true, Time: at(deg)},
				Edge{Channel: Primary, High: false, Time: at(deg + pitch/2)},
			)
		}
	}
	for c := 0; c < cycles && w.CamTeeth > 0; c++ {
		for j := 0; j < w.CamTeeth; j++ {
			deg := float64(c*720+w.CamAngle) + float64(j*720)/float64(w.CamTeeth)
			edges = append(edges,
				Edge{Channel: Secondary, High: true, Time: at(deg)},
				Edge{Channel: Secondary, High: false, Time: at(deg + pitch/4)},
			)
		}
	}
	slices.SortStableFunc(edges, func(a, b Edge) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
	return edges, nil
}
