package pileup

import (
	"testing"
	"time"
)

func TestMultiTrackerFansOut(t *testing.T) {
	mt := NewMultiTracker("W2ME", DefaultConfig(), nil)
	mt.AddTarget("DX1X", "")
	mt.AddTarget("DX2Y", "")
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	mt.ProcessDecode(mkDecode(base, -5, 800, "DX1X K1AAA FN42"))
	mt.ProcessDecode(mkDecode(base, -9, 1100, "DX2Y K1AAA FN42"))
	mt.ProcessDecode(mkDecode(base, -7, 1300, "DX2Y K2BBB FN31"))

	tr1, _ := mt.Tracker("DX1X")
	tr2, _ := mt.Tracker("DX2Y")
	info1, _ := tr1.GetPileupInfo()
	info2, _ := tr2.GetPileupInfo()
	if info1.Size != 1 || info2.Size != 2 {
		t.Fatalf("fan-out sizes wrong: %d/%d", info1.Size, info2.Size)
	}
}

func TestBestTargetPrefersSmallPileup(t *testing.T) {
	mt := NewMultiTracker("W2ME", DefaultConfig(), nil)
	mt.AddTarget("DX1X", "")
	mt.AddTarget("DX2Y", "")
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	// DX1X has a single caller; DX2Y has eight.
	mt.ProcessDecode(mkDecode(base, -5, 800, "DX1X K1AAA FN42"))
	for i := 0; i < 8; i++ {
		msg := "DX2Y K" + string(rune('1'+i)) + "BBB FN31"
		mt.ProcessDecode(mkDecode(base, -10-i, 900+i*40, msg))
	}

	best, ok := mt.BestTarget()
	if !ok || best != "DX1X" {
		t.Fatalf("expected DX1X, got %q/%v", best, ok)
	}
}

func TestBestTargetRewardsOwnRank(t *testing.T) {
	mt := NewMultiTracker("W2ME", DefaultConfig(), nil)
	mt.AddTarget("DX1X", "")
	mt.AddTarget("DX2Y", "")
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	// Equal pileups, but the operator is visible (and loudest) only at DX2Y.
	mt.ProcessDecode(mkDecode(base, -5, 800, "DX1X K1AAA FN42"))
	mt.ProcessDecode(mkDecode(base, -12, 900, "DX1X K2BBB FN31"))
	mt.ProcessDecode(mkDecode(base, -3, 1000, "DX2Y W2ME FN20"))
	mt.ProcessDecode(mkDecode(base, -11, 1100, "DX2Y K2BBB FN31"))

	best, ok := mt.BestTarget()
	if !ok || best != "DX2Y" {
		t.Fatalf("expected DX2Y, got %q/%v", best, ok)
	}
}

func TestBestTargetNoDataReturnsFalse(t *testing.T) {
	mt := NewMultiTracker("W2ME", DefaultConfig(), nil)
	mt.AddTarget("DX1X", "")
	if _, ok := mt.BestTarget(); ok {
		t.Fatalf("no pileup data should yield no best target")
	}
}
