package pileup

import (
	"fmt"
	"testing"
	"time"

	"qsointel/decode"
)

type recordingSink struct {
	pileupUpdates int
	answers       []AnsweredCall
	patterns      []PickingPattern
	callingYou    int
}

func (r *recordingSink) PileupUpdated(string, int) { r.pileupUpdates++ }
func (r *recordingSink) AnswerDetected(_ string, a AnsweredCall) {
	r.answers = append(r.answers, a)
}
func (r *recordingSink) PatternDetected(_ string, p PickingPattern) {
	r.patterns = append(r.patterns, p)
}
func (r *recordingSink) TargetCallingYou(string, decode.Decode) { r.callingYou++ }

func mkDecode(ts time.Time, snr, freq int, msg string) decode.Decode {
	d := decode.Decode{Timestamp: ts, SNR: snr, FreqHz: freq, Mode: "FT8", Message: msg}
	d.DeriveFields()
	return d
}

func TestTargetCQUpdatesSession(t *testing.T) {
	tr := NewTracker("W2ME", DefaultConfig(), nil)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	tr.ProcessDecode(mkDecode(base, -8, 1210, "CQ DX1X JJ00"))

	b, ok := tr.GetTargetBehavior()
	if !ok || b.CQCount != 1 {
		t.Fatalf("expected one CQ, got %+v", b)
	}
	tr.mu.Lock()
	if tr.current.Grid != "JJ00" || tr.current.FreqHz != 1210 {
		t.Fatalf("grid/frequency not learned: %+v", tr.current)
	}
	tr.mu.Unlock()
}

func TestPileupUpsertAndRanks(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker("W2ME", DefaultConfig(), sink)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	tr.ProcessDecode(mkDecode(base, -5, 800, "DX1X K1AAA FN42"))
	tr.ProcessDecode(mkDecode(base, -15, 1200, "DX1X K2BBB FN31"))
	tr.ProcessDecode(mkDecode(base, -10, 1600, "DX1X W2ME FN20"))

	info, ok := tr.GetPileupInfo()
	if !ok || info.Size != 3 {
		t.Fatalf("expected 3 callers, got %+v", info)
	}
	if info.Loudest.Callsign != "K1AAA" {
		t.Fatalf("expected K1AAA loudest, got %s", info.Loudest.Callsign)
	}
	if info.YourRank.Kind != RankKnown || info.YourRank.Position != 2 {
		t.Fatalf("expected rank 2, got %+v", info.YourRank)
	}
	if !info.HasRange || info.FreqLow != 800 || info.FreqHigh != 1600 {
		t.Fatalf("unexpected frequency range %d-%d", info.FreqLow, info.FreqHigh)
	}
	if sink.pileupUpdates != 3 {
		t.Fatalf("expected 3 pileup updates, got %d", sink.pileupUpdates)
	}

	// A second sighting updates in place, not a new member.
	tr.ProcessDecode(mkDecode(base.Add(5*time.Second), -2, 805, "DX1X K2BBB R-12"))
	info, _ = tr.GetPileupInfo()
	if info.Size != 3 {
		t.Fatalf("repeat sighting grew the pileup: %d", info.Size)
	}
	if info.Loudest.Callsign != "K2BBB" {
		t.Fatalf("expected updated SNR to promote K2BBB, got %s", info.Loudest.Callsign)
	}
}

func TestAnswerClearsPileupAndFlagsLoudest(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker("W2ME", DefaultConfig(), sink)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	tr.ProcessDecode(mkDecode(base, -3, 900, "DX1X K1AAA FN42"))
	tr.ProcessDecode(mkDecode(base, -12, 1400, "DX1X K2BBB FN31"))
	tr.ProcessDecode(mkDecode(base.Add(time.Second), -1, 1000, "K1AAA DX1X -05"))

	if len(sink.answers) != 1 {
		t.Fatalf("expected one answer event, got %d", len(sink.answers))
	}
	a := sink.answers[0]
	if a.Callsign != "K1AAA" || !a.WasLoudest || a.SNRRank != 1 || a.PileupSize != 2 {
		t.Fatalf("unexpected answer record %+v", a)
	}
	info, _ := tr.GetPileupInfo()
	if info.Size != 0 {
		t.Fatalf("pileup not cleared after answer: %d", info.Size)
	}
}

func TestLoudestToleranceWindow(t *testing.T) {
	tr := NewTracker("W2ME", DefaultConfig(), nil)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	// K2BBB is 1 dB below the maximum: still "loudest" under the tolerance.
	tr.ProcessDecode(mkDecode(base, -3, 900, "DX1X K1AAA FN42"))
	tr.ProcessDecode(mkDecode(base, -4, 1400, "DX1X K2BBB FN31"))
	sink := &recordingSink{}
	tr.sink = sink
	tr.ProcessDecode(mkDecode(base.Add(time.Second), -1, 1000, "K2BBB DX1X -05"))

	if len(sink.answers) != 1 || !sink.answers[0].WasLoudest {
		t.Fatalf("1 dB under max should count as loudest: %+v", sink.answers)
	}
	if sink.answers[0].SNRRank != 2 {
		t.Fatalf("rank should still be 2, got %d", sink.answers[0].SNRRank)
	}
}

func TestTargetCallingYouEvent(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker("W2ME", DefaultConfig(), sink)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	tr.ProcessDecode(mkDecode(base, -6, 1210, "W2ME DX1X -10"))
	if sink.callingYou != 1 {
		t.Fatalf("expected target-calling-you event")
	}
	if len(sink.answers) != 0 {
		t.Fatalf("a reply to the operator is not an answer to someone else")
	}
}

func TestCyclePruningDropsStaleCallers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleAfter = 60 * time.Second
	tr := NewTracker("W2ME", cfg, nil)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	tr.ProcessDecode(mkDecode(base, -5, 800, "DX1X K1AAA FN42"))
	// Two minutes later a different caller appears; K1AAA is stale.
	tr.ProcessDecode(mkDecode(base.Add(2*time.Minute), -9, 1200, "DX1X K2BBB FN31"))

	info, _ := tr.GetPileupInfo()
	if info.Size != 1 || info.Callers[0].Callsign != "K2BBB" {
		t.Fatalf("stale caller not pruned: %+v", info)
	}
	tr.mu.Lock()
	cycle := tr.currentCycle
	tr.mu.Unlock()
	if cycle != 8 {
		t.Fatalf("expected 8 cycles over 120s, got %d", cycle)
	}
}

func TestClearTargetDropsFurtherUpdates(t *testing.T) {
	tr := NewTracker("W2ME", DefaultConfig(), nil)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	tr.ClearTarget()

	// Post-clear decodes are a normal state, silently dropped.
	tr.ProcessDecode(mkDecode(base, -5, 800, "DX1X K1AAA FN42"))
	if _, ok := tr.GetPileupInfo(); ok {
		t.Fatalf("cleared tracker should report no target")
	}
}

func TestNearMissCallsignMerged(t *testing.T) {
	tr := NewTracker("W2ME", DefaultConfig(), nil)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	tr.ProcessDecode(mkDecode(base, -5, 1000, "DX1X K1ABC FN42"))
	// Same frequency, one character off: decoder bit error, same station.
	tr.ProcessDecode(mkDecode(base.Add(time.Second), -4, 1002, "DX1X K1ABO FN42"))

	info, _ := tr.GetPileupInfo()
	if info.Size != 1 {
		t.Fatalf("near-miss callsign created a second member: %+v", info)
	}
	if info.Callers[0].CallCount != 2 {
		t.Fatalf("merged sighting should bump call count, got %d", info.Callers[0].CallCount)
	}

	// A genuinely different station at a different frequency stays separate.
	tr.ProcessDecode(mkDecode(base.Add(2*time.Second), -7, 1900, "DX1X K1ABD FN33"))
	info, _ = tr.GetPileupInfo()
	if info.Size != 2 {
		t.Fatalf("distant near-miss wrongly merged: %+v", info)
	}
}

func TestEndToEndLoudestFirstScenario(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker("W2ME", DefaultConfig(), sink)
	tr.SetTarget("DX1X", "", 0)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	tr.ProcessDecode(mkDecode(base, -4, 1210, "CQ DX1X JJ00AA"))

	ts := base
	for i := 1; i <= 5; i++ {
		winner := fmt.Sprintf("K%dWIN", i)
		// Three concurrent callers; the eventual winner is clearly loudest.
		ts = ts.Add(15 * time.Second)
		tr.ProcessDecode(mkDecode(ts, -2, 700+i*10, fmt.Sprintf("DX1X %s FN42", winner)))
		tr.ProcessDecode(mkDecode(ts, -14, 1300, "DX1X N0LOW EM12"))
		tr.ProcessDecode(mkDecode(ts, -19, 2100, "DX1X N0FAR CM87"))
		ts = ts.Add(15 * time.Second)
		tr.ProcessDecode(mkDecode(ts, -3, 1210, fmt.Sprintf("%s DX1X -09", winner)))
	}

	if len(sink.answers) != 5 {
		t.Fatalf("expected 5 answers, got %d", len(sink.answers))
	}
	if len(sink.patterns) == 0 {
		t.Fatalf("expected a pattern event at the fifth answer")
	}
	p := sink.patterns[len(sink.patterns)-1]
	if p.Style != StyleLoudestFirst || p.Confidence != 1.0 {
		t.Fatalf("expected loudest_first at confidence 1.0, got %+v", p)
	}

	info, _ := tr.GetPileupInfo()
	if info.Size != 0 {
		t.Fatalf("pileup must be cleared immediately after the fifth answer, got %d", info.Size)
	}
	tr.mu.Lock()
	grid := tr.current.Grid
	tr.mu.Unlock()
	if grid != "JJ00" {
		t.Fatalf("grid not learned from CQ: %q", grid)
	}
}
