package decode

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// Deduplicator suppresses repeated decodes of the same transmission within a
// time window. Decoders frequently emit the same message twice when two
// passes overlap; the hash folds the frequency into 50 Hz buckets so a small
// drift between passes still collides.
type Deduplicator struct {
	mu          sync.Mutex
	window      time.Duration
	seen        map[uint64]time.Time
	lastCleanup time.Time

	processed uint64
	dropped   uint64
}

const dedupFreqBucketHz = 50

// NewDeduplicator creates a deduplicator with the given suppression window.
// A zero or negative window disables suppression while keeping the pipeline
// topology intact.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window: window,
		seen:   make(map[uint64]time.Time),
	}
}

// hashDecode folds mode, message text, and the bucketed audio frequency into
// a single 64-bit key.
func hashDecode(d Decode) uint64 {
	buf := make([]byte, 0, len(d.Mode)+len(d.Message)+5)
	buf = append(buf, d.Mode...)
	buf = append(buf, 0)
	buf = append(buf, d.Message...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(d.FreqHz/dedupFreqBucketHz))
	return xxh3.Hash(buf)
}

// IsDuplicate records the decode and reports whether an identical one was
// already seen inside the window.
func (dd *Deduplicator) IsDuplicate(d Decode) bool {
	if dd == nil || dd.window <= 0 {
		return false
	}
	key := hashDecode(d)
	now := d.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	dd.mu.Lock()
	defer dd.mu.Unlock()
	dd.processed++

	if last, ok := dd.seen[key]; ok && now.Sub(last) < dd.window {
		dd.dropped++
		return true
	}
	dd.seen[key] = now

	// Amortized cleanup keeps the map bounded without a background goroutine.
	if now.Sub(dd.lastCleanup) > dd.window {
		for k, t := range dd.seen {
			if now.Sub(t) >= dd.window {
				delete(dd.seen, k)
			}
		}
		dd.lastCleanup = now
	}
	return false
}

// Stats returns processed and dropped counts since construction.
func (dd *Deduplicator) Stats() (processed, dropped uint64) {
	dd.mu.Lock()
	defer dd.mu.Unlock()
	return dd.processed, dd.dropped
}
