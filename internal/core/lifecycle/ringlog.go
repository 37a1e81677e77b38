package lifecycle

// RingLog is a bounded audit trail. Appending beyond capacity evicts the
// oldest entry, so the trail cannot grow without bound across a long
// monitoring session.
type RingLog struct {
	entries []string
	start   int
	count   int
}

// DefaultLogCapacity bounds the state machine audit trail.
const DefaultLogCapacity = 256

// NewRingLog creates a ring log with the given capacity.
// Non-positive capacities fall back to DefaultLogCapacity.
func NewRingLog(capacity int) *RingLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &RingLog{entries: make([]string, capacity)}
}

// Append adds an entry, evicting the oldest when full.
func (l *RingLog) Append(entry string) {
	idx := (l.start + l.count) % len(l.entries)
	l.entries[idx] = entry
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.entries)
	}
}

// Len returns the number of retained entries.
func (l *RingLog) Len() int {
	return l.count
}

// Entries returns the retained entries, oldest first.
func (l *RingLog) Entries() []string {
	out := make([]string, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.entries[(l.start+i)%len(l.entries)])
	}
	return out
}
