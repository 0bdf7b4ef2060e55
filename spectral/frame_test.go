package spectral

import (
	"testing"
	"time"

	"qsointel/decode"
)

func testFrame() *Frame {
	cfg := DefaultConfig()
	return NewFrame(cfg)
}

func TestLocalIntensityMonotonicAndBounded(t *testing.T) {
	prev := -1.0
	for snr := -40; snr <= 40; snr++ {
		v := localIntensityForSNR(snr)
		if v < prev {
			t.Fatalf("intensity decreased at snr %d: %f < %f", snr, v, prev)
		}
		if v < 0 || v > 100 {
			t.Fatalf("intensity out of range at snr %d: %f", snr, v)
		}
		prev = v
	}
	if localIntensityForSNR(-40) != 40 {
		t.Fatalf("weak signals clamp to 40")
	}
	if localIntensityForSNR(40) != 100 {
		t.Fatalf("strong signals clamp to 100")
	}
}

func TestIngestLocalMonotonicRaise(t *testing.T) {
	f := testFrame()
	now := time.Now()
	d := decode.Decode{FreqHz: 1000, SNR: -5}

	f.IngestLocalDecodes([]decode.Decode{d}, now)
	local, _ := f.Snapshot()
	first := local[1000]
	if first <= 0 {
		t.Fatalf("expected raised intensity at 1000 Hz")
	}

	// A weaker sighting of the same signal must not lower the cell.
	weak := decode.Decode{FreqHz: 1000, SNR: -20}
	f.IngestLocalDecodes([]decode.Decode{weak}, now.Add(time.Second))
	local, _ = f.Snapshot()
	if local[1000] < first {
		t.Fatalf("ingest lowered intensity: %f -> %f", first, local[1000])
	}
}

func TestIngestLocalRaisesWindow(t *testing.T) {
	f := testFrame()
	f.IngestLocalDecodes([]decode.Decode{{FreqHz: 1000, SNR: 0}}, time.Now())
	local, _ := f.Snapshot()
	for _, b := range []int{975, 1000, 1025} {
		if local[b] <= 0 {
			t.Fatalf("expected raise at bin %d", b)
		}
	}
	if local[974] != 0 || local[1026] != 0 {
		t.Fatalf("raise leaked outside the ±25 Hz window")
	}
}

func TestDecayConvergesToZero(t *testing.T) {
	f := testFrame()
	start := time.Now()
	f.IngestLocalDecodes([]decode.Decode{{FreqHz: 1500, SNR: 20}}, start)

	// Within the hold period decay must be a no-op.
	f.DecayTick(start.Add(5 * time.Second))
	local, _ := f.Snapshot()
	if local[1500] == 0 {
		t.Fatalf("decay ran inside the hold period")
	}

	now := start.Add(20 * time.Second)
	for i := 0; i < 500; i++ {
		f.DecayTick(now)
		now = now.Add(100 * time.Millisecond)
	}
	local, _ = f.Snapshot()
	for b, v := range local {
		if v != 0 {
			t.Fatalf("bin %d did not converge to zero: %f", b, v)
		}
	}
}

func TestRemoteIngestReplacesAndFadesWithAge(t *testing.T) {
	f := testFrame()
	f.IngestRemoteInterference([]Interference{{OffsetHz: 800, SNR: 10, Age: 10 * time.Second}})
	_, remote := f.Snapshot()
	fresh := remote[800]
	if fresh <= 0 {
		t.Fatalf("expected fresh remote intensity")
	}

	// An aged report of the same signal replaces the array with a fainter value.
	f.IngestRemoteInterference([]Interference{{OffsetHz: 800, SNR: 10, Age: 330 * time.Second}})
	_, remote = f.Snapshot()
	if remote[800] >= fresh {
		t.Fatalf("aged report should fade: %f >= %f", remote[800], fresh)
	}

	// Beyond the maximum age the report is ignored entirely.
	f.IngestRemoteInterference([]Interference{{OffsetHz: 800, SNR: 10, Age: 700 * time.Second}})
	_, remote = f.Snapshot()
	if remote[800] != 0 {
		t.Fatalf("expired report should contribute nothing")
	}
}

func TestRemoteOverlapCombinesByMax(t *testing.T) {
	f := testFrame()
	f.IngestRemoteInterference([]Interference{
		{OffsetHz: 1000, SNR: 0, Age: 0},
		{OffsetHz: 1010, SNR: 0, Age: 0},
	})
	_, remote := f.Snapshot()
	single := remoteIntensityForSNR(0)
	if remote[1005] > single {
		t.Fatalf("overlapping reports double-counted: %f > %f", remote[1005], single)
	}
}
