package decoders

// ToothLogSize is the number of gaps the tooth logger holds.
const ToothLogSize = 128

// ToothLog is a fixed ring of primary tooth gaps in microseconds. Once it
// has wrapped it keeps overwriting the oldest entry and reports Ready
// until drained.
type ToothLog struct {
	entries [ToothLogSize]uint32
	next    int
	count   int
}

// Add records one gap.
func (l *ToothLog) Add(gap uint32) {
	l.entries[l.next] = gap
	l.next = (l.next + 1) % ToothLogSize
	if l.count < ToothLogSize {
		l.count++
	}
}

// Len returns the number of entries held.
func (l *ToothLog) Len() int { return l.count }

// Ready reports whether a full log is available.
func (l *ToothLog) Ready() bool { return l.count == ToothLogSize }

// Drain returns the held entries oldest first and empties the log.
func (l *ToothLog) Drain() []uint32 {
	out := make([]uint32, 0, l.count)
	start := (l.next - l.count + ToothLogSize) % ToothLogSize
	for i := 0; i < l.count; i++ {
		out = append(out, l.entries[(start+i)%ToothLogSize])
	}
	l.Clear()
	return out
}

// Clear empties the log.
func (l *ToothLog) Clear() {
	l.next = 0
	l.count = 0
}
