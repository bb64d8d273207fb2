package decoders

// Edge selects the input transition that fires a trigger handler.
type Edge uint8

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeChange
	// EdgeNone marks an interrupt that is never attached.
	EdgeNone Edge = 99
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "RISING"
	case EdgeFalling:
		return "FALLING"
	case EdgeChange:
		return "CHANGE"
	case EdgeNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Matches reports whether a transition that leaves the input at level
// high fires on e.
func (e Edge) Matches(high bool) bool {
	switch e {
	case EdgeRising:
		return high
	case EdgeFalling:
		return !high
	case EdgeChange:
		return true
	default:
		return false
	}
}

// Inputs is the digital input capability trigger handlers are attached to.
// Handlers receive the microsecond timestamp of the edge.
type Inputs interface {
	Attach(pin int, edge Edge, handler func(now uint32)) error
	Detach(pin int) error
	Read(pin int) bool
}

// Interrupt binds a trigger handler to the edge it fires on.
type Interrupt struct {
	Callback func(now uint32)
	Edge     Edge
}

// Valid reports whether the interrupt has both a handler and an edge.
func (i Interrupt) Valid() bool {
	return i.Edge != EdgeNone && i.Callback != nil
}

// Attach detaches pin and then attaches the handler if the interrupt is
// valid. wrap is applied to the handler before it is attached.
func (i Interrupt) Attach(in Inputs, pin int, wrap func(func(uint32)) func(uint32)) error {
	if err := i.Detach(in, pin); err != nil {
		return err
	}
	if !i.Valid() {
		return nil
	}
	h := i.Callback
	if wrap != nil {
		h = wrap(h)
	}
	return in.Attach(pin, i.Edge, h)
}

// Detach removes any handler from pin. Detaching an unattached pin is not
// an error.
func (i Interrupt) Detach(in Inputs, pin int) error {
	return in.Detach(pin)
}

// SyncStatus is how much of the engine position a decoder knows.
type SyncStatus uint8

const (
	// SyncNone: no pulses, or sync was lost.
	SyncNone SyncStatus = iota
	// SyncPartial: the primary is decoded but the cam phase is unknown.
	SyncPartial
	// SyncFull: position is known over the whole cycle.
	SyncFull
)

func (s SyncStatus) String() string {
	switch s {
	case SyncPartial:
		return "PARTIAL"
	case SyncFull:
		return "FULL"
	default:
		return "NONE"
	}
}

// Status is the diagnostic state of the active decoder.
type Status struct {
	ValidTrigger      bool
	ToothAngleCorrect bool
	Sync              SyncStatus
}

// Decoder is the operation set of the active trigger pattern. Every field
// is non-nil when built by a Builder.
type Decoder struct {
	Primary   Interrupt
	Secondary Interrupt
	Tertiary  Interrupt

	GetRPM          func() uint16
	GetCrankAngle   func() int
	SetEndTeeth     func()
	Reset           func()
	IsEngineRunning func(now uint32) bool
	GetStatus       func() Status
}

// Builder accumulates decoder operations. Anything left unset falls back
// to an inert default in Build.
type Builder struct {
	d Decoder
}

// NewBuilder returns a builder whose Build yields the inert decoder.
func NewBuilder() *Builder {
	return &Builder{d: Decoder{
		Primary:   Interrupt{Edge: EdgeNone},
		Secondary: Interrupt{Edge: EdgeNone},
		Tertiary:  Interrupt{Edge: EdgeNone},
	}}
}

func (b *Builder) SetPrimaryTrigger(cb func(uint32), edge Edge) *Builder {
	b.d.Primary = Interrupt{Callback: cb, Edge: edge}
	return b
}

func (b *Builder) SetSecondaryTrigger(cb func(uint32), edge Edge) *Builder {
	b.d.Secondary = Interrupt{Callback: cb, Edge: edge}
	return b
}

func (b *Builder) SetTertiaryTrigger(cb func(uint32), edge Edge) *Builder {
	b.d.Tertiary = Interrupt{Callback: cb, Edge: edge}
	return b
}

func (b *Builder) SetGetRPM(fn func() uint16) *Builder {
	b.d.GetRPM = fn
	return b
}

func (b *Builder) SetGetCrankAngle(fn func() int) *Builder {
	b.d.GetCrankAngle = fn
	return b
}

func (b *Builder) SetSetEndTeeth(fn func()) *Builder {
	b.d.SetEndTeeth = fn
	return b
}

func (b *Builder) SetReset(fn func()) *Builder {
	b.d.Reset = fn
	return b
}

func (b *Builder) SetIsEngineRunning(fn func(uint32) bool) *Builder {
	b.d.IsEngineRunning = fn
	return b
}

func (b *Builder) SetGetStatus(fn func() Status) *Builder {
	b.d.GetStatus = fn
	return b
}

// Build returns the decoder with every nil operation replaced by its
// default. A nil trigger callback keeps its edge but is swapped for a
// no-op so it can still be called.
func (b *Builder) Build() Decoder {
	d := b.d
	d.Primary = withDefaultCallback(d.Primary)
	d.Secondary = withDefaultCallback(d.Secondary)
	d.Tertiary = withDefaultCallback(d.Tertiary)
	if d.GetRPM == nil {
		d.GetRPM = func() uint16 { return 0 }
	}
	if d.GetCrankAngle == nil {
		d.GetCrankAngle = func() int { return 0 }
	}
	if d.SetEndTeeth == nil {
		d.SetEndTeeth = func() {}
	}
	if d.Reset == nil {
		d.Reset = func() {}
	}
	if d.IsEngineRunning == nil {
		d.IsEngineRunning = func(uint32) bool { return false }
	}
	if d.GetStatus == nil {
		d.GetStatus = func() Status { return Status{} }
	}
	return d
}

func withDefaultCallback(i Interrupt) Interrupt {
	if i.Callback == nil {
		return Interrupt{Callback: func(uint32) {}, Edge: EdgeNone}
	}
	return i
}
