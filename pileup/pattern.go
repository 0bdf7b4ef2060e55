package pileup

import (
	"math"
	"sort"
)

// PickingStyle classifies how a target picks callers from its pileup.
type PickingStyle string

const (
	StyleUnknown         PickingStyle = "unknown"
	StyleLoudestFirst    PickingStyle = "loudest_first"
	StyleMethodicalLowHi PickingStyle = "methodical_low_high"
	StyleMethodicalHiLow PickingStyle = "methodical_high_low"
	StyleRandom          PickingStyle = "random"
)

// PickingPattern is the derived classification of a target's answer history.
// Recomputed on demand; never persisted.
type PickingPattern struct {
	Style      PickingStyle
	Confidence float64 // 0-1
	SampleSize int
	Advice     string

	LoudestPickRatio float64
	FreqCorrelation  float64
}

const (
	patternMinAnswers = 5
	patternWindow     = 10

	loudestRatioThreshold = 0.6
	freqCorrThreshold     = 0.5
	corrMinSamples        = 3
)

// AnalyzePattern classifies the target's picking style from its most recent
// answers (at most the last 10; at least 5 required). Classification order:
// loudest-first beats frequency trends, which beat the random fallback.
func AnalyzePattern(answers []AnsweredCall) (PickingPattern, bool) {
	if len(answers) < patternMinAnswers {
		return PickingPattern{Style: StyleUnknown}, false
	}
	if len(answers) > patternWindow {
		answers = answers[len(answers)-patternWindow:]
	}

	loudest := 0
	for _, a := range answers {
		if a.WasLoudest {
			loudest++
		}
	}
	loudestRatio := float64(loudest) / float64(len(answers))

	corr := 0.0
	if len(answers) >= corrMinSamples {
		freqs := make([]float64, len(answers))
		order := make([]float64, len(answers))
		for i, a := range answers {
			freqs[i] = float64(a.FreqHz)
			order[i] = float64(i)
		}
		corr = spearman(order, freqs)
	}

	p := PickingPattern{
		SampleSize:       len(answers),
		LoudestPickRatio: loudestRatio,
		FreqCorrelation:  corr,
	}

	switch {
	case loudestRatio >= loudestRatioThreshold:
		p.Style = StyleLoudestFirst
		p.Confidence = loudestRatio
		p.Advice = "Target picks loudest signals. Strong signal advantage."
	case corr > freqCorrThreshold:
		p.Style = StyleMethodicalLowHi
		p.Confidence = corr
		p.Advice = "Target working low-to-high. Position at lower frequencies."
	case corr < -freqCorrThreshold:
		p.Style = StyleMethodicalHiLow
		p.Confidence = -corr
		p.Advice = "Target working high-to-low. Position at higher frequencies."
	default:
		// A more random target yields higher confidence in the random label.
		p.Style = StyleRandom
		p.Confidence = 1.0 - loudestRatio
		p.Advice = "No clear pattern. Persistence matters."
	}
	return p, true
}

// spearman computes the Spearman rank correlation between two equal-length
// series using tie-aware average ranks (Pearson on the ranks).
func spearman(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	rx := ranks(x)
	ry := ranks(y)
	return pearson(rx, ry)
}

// ranks assigns average ranks to the values, splitting ties.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Average rank over the tie run [i, j].
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	if math.IsNaN(r) {
		return 0
	}
	return r
}
