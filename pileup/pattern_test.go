package pileup

import (
	"math"
	"testing"
)

func answersWithLoudest(n, loudest int) []AnsweredCall {
	out := make([]AnsweredCall, n)
	for i := range out {
		out[i] = AnsweredCall{Callsign: "K1AAA", FreqHz: 1500, SNR: -10}
		if i < loudest {
			out[i].WasLoudest = true
			out[i].SNRRank = 1
		} else {
			out[i].SNRRank = 3
		}
	}
	return out
}

func TestAnalyzePatternNeedsFiveSamples(t *testing.T) {
	if _, ok := AnalyzePattern(answersWithLoudest(4, 4)); ok {
		t.Fatalf("pattern produced from fewer than 5 answers")
	}
}

func TestAnalyzePatternLoudestFirst(t *testing.T) {
	p, ok := AnalyzePattern(answersWithLoudest(10, 8))
	if !ok {
		t.Fatalf("expected a pattern")
	}
	if p.Style != StyleLoudestFirst {
		t.Fatalf("expected loudest_first, got %s", p.Style)
	}
	if math.Abs(p.Confidence-0.8) > 1e-9 {
		t.Fatalf("expected confidence 0.8, got %f", p.Confidence)
	}
	if p.SampleSize != 10 {
		t.Fatalf("expected sample size 10, got %d", p.SampleSize)
	}
}

func TestAnalyzePatternMethodicalLowHigh(t *testing.T) {
	answers := make([]AnsweredCall, 6)
	for i := range answers {
		answers[i] = AnsweredCall{FreqHz: 500 + i*200, SNRRank: 4}
	}
	p, ok := AnalyzePattern(answers)
	if !ok || p.Style != StyleMethodicalLowHi {
		t.Fatalf("expected methodical_low_high, got %+v", p)
	}
	if p.Confidence <= 0.5 {
		t.Fatalf("strictly increasing frequencies should give confidence > 0.5, got %f", p.Confidence)
	}
	if p.FreqCorrelation != 1.0 {
		t.Fatalf("expected perfect rank correlation, got %f", p.FreqCorrelation)
	}
}

func TestAnalyzePatternMethodicalHighLow(t *testing.T) {
	answers := make([]AnsweredCall, 6)
	for i := range answers {
		answers[i] = AnsweredCall{FreqHz: 2500 - i*200, SNRRank: 4}
	}
	p, ok := AnalyzePattern(answers)
	if !ok || p.Style != StyleMethodicalHiLow {
		t.Fatalf("expected methodical_high_low, got %+v", p)
	}
	if p.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %f", p.Confidence)
	}
}

func TestAnalyzePatternRandomFallback(t *testing.T) {
	freqs := []int{1200, 900, 1800, 700, 1500, 1100}
	answers := make([]AnsweredCall, len(freqs))
	for i, f := range freqs {
		answers[i] = AnsweredCall{FreqHz: f, SNRRank: 4}
		if i == 0 {
			answers[i].WasLoudest = true
			answers[i].SNRRank = 1
		}
	}
	p, ok := AnalyzePattern(answers)
	if !ok || p.Style != StyleRandom {
		t.Fatalf("expected random, got %+v", p)
	}
	// One loudest pick in six: confidence in "random" is 1 - 1/6.
	if math.Abs(p.Confidence-(1.0-1.0/6.0)) > 1e-9 {
		t.Fatalf("unexpected confidence %f", p.Confidence)
	}
}

func TestAnalyzePatternUsesLastTen(t *testing.T) {
	answers := answersWithLoudest(20, 0)
	// Only the final ten are loudest picks.
	for i := 10; i < 20; i++ {
		answers[i].WasLoudest = true
	}
	p, ok := AnalyzePattern(answers)
	if !ok || p.Style != StyleLoudestFirst || p.Confidence != 1.0 {
		t.Fatalf("expected loudest_first at 1.0 from the last ten, got %+v", p)
	}
}

func TestSpearmanTies(t *testing.T) {
	// Constant series has no detectable trend.
	if c := spearman([]float64{0, 1, 2, 3}, []float64{5, 5, 5, 5}); c != 0 {
		t.Fatalf("constant series should correlate 0, got %f", c)
	}
	// Monotonic with one tie still correlates strongly positive.
	c := spearman([]float64{0, 1, 2, 3}, []float64{1, 2, 2, 3})
	if c <= 0.8 {
		t.Fatalf("expected strong positive correlation, got %f", c)
	}
}
