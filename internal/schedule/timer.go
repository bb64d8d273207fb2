package schedule

// SoftTimer is a Timer driven by explicit ticks. The hardware layer (or a
// test) advances it and it calls OnCompare whenever the counter lands on
// the compare value while enabled.
type SoftTimer struct {
	Count        uint16
	CompareValue uint16
	Enabled      bool
	OnCompare    func()
}

// Counter returns the current counter value.
func (t *SoftTimer) Counter() uint16 { return t.Count }

// SetCompare programs the compare register.
func (t *SoftTimer) SetCompare(v uint16) { t.CompareValue = v }

// Enable turns on the compare interrupt.
func (t *SoftTimer) Enable() { t.Enabled = true }

// Disable turns off the compare interrupt.
func (t *SoftTimer) Disable() { t.Enabled = false }

// Tick advances the counter by n ticks.
func (t *SoftTimer) Tick(n uint32) {
	for i := uint32(0); i < n; i++ {
		t.Count++
		if t.Enabled && t.Count == t.CompareValue && t.OnCompare != nil {
			t.OnCompare()
		}
	}
}

// Advance moves the counter on by the whole ticks in us and returns the
// microseconds left over.
func (t *SoftTimer) Advance(us uint32) uint32 {
	t.Tick(us / TickMicros)
	return us % TickMicros
}
