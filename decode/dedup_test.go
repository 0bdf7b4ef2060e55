package decode

import (
	"testing"
	"time"
)

func TestDeduplicatorSuppressesWithinWindow(t *testing.T) {
	dd := NewDeduplicator(10 * time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := Decode{Timestamp: base, Mode: "FT8", Message: "CQ W1ABC FN42", FreqHz: 1500}
	if dd.IsDuplicate(d) {
		t.Fatalf("first sighting must not be a duplicate")
	}

	// Same message, slight frequency drift within a bucket.
	d2 := d
	d2.Timestamp = base.Add(2 * time.Second)
	d2.FreqHz = 1510
	if !dd.IsDuplicate(d2) {
		t.Fatalf("repeat within window should be suppressed")
	}

	// Outside the window the same message passes again.
	d3 := d
	d3.Timestamp = base.Add(15 * time.Second)
	if dd.IsDuplicate(d3) {
		t.Fatalf("repeat outside window should pass")
	}

	processed, dropped := dd.Stats()
	if processed != 3 || dropped != 1 {
		t.Fatalf("stats = %d/%d, want 3/1", processed, dropped)
	}
}

func TestDeduplicatorDisabled(t *testing.T) {
	dd := NewDeduplicator(0)
	d := Decode{Mode: "FT8", Message: "CQ W1ABC FN42", FreqHz: 1500}
	if dd.IsDuplicate(d) || dd.IsDuplicate(d) {
		t.Fatalf("zero window must never suppress")
	}
}
