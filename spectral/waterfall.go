package spectral

import "time"

// Row is one retained intensity snapshot for the fading waterfall view.
type Row struct {
	Time  time.Time
	Local []float64
}

// historyRing is a fixed-capacity ring of waterfall rows. Writers publish
// whole rows under the frame's lock, so no internal synchronization is
// needed.
type historyRing struct {
	slots []Row
	next  int
	total int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &historyRing{slots: make([]Row, capacity)}
}

func (r *historyRing) add(row Row) {
	r.slots[r.next] = row
	r.next = (r.next + 1) % len(r.slots)
	r.total++
}

// rows returns retained rows oldest first.
func (r *historyRing) rows() []Row {
	n := r.total
	if n > len(r.slots) {
		n = len(r.slots)
	}
	out := make([]Row, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.slots)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.slots[(start+i)%len(r.slots)])
	}
	return out
}
