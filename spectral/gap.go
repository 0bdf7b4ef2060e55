package spectral

import "math"

// FindBestGap computes the lowest-cost open offset. The cost of each window
// position is the sliding-window sum of local + RemoteWeight×remote intensity
// plus a linear bias toward band center, a large constant penalty inside the
// protected guard radius, and the search is restricted to the range between
// the edge guards. Recommendations move only when the new candidate differs
// from the previous one by more than the hysteresis threshold.
//
// If the safe search range is degenerate the previous recommendation is
// retained, so the consuming UI always has something displayable.
func (f *Frame) FindBestGap() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	width := f.cfg.GapWindowHz
	lo := f.cfg.EdgeGuardHz
	hi := f.cfg.BandwidthHz - f.cfg.EdgeGuardHz - width
	if hi <= lo {
		return f.recommendation, f.hasRec
	}

	// Prefix sums turn the windowed convolution into O(1) per position.
	prefix := make([]float64, f.cfg.BandwidthHz+1)
	for b := 0; b < f.cfg.BandwidthHz; b++ {
		prefix[b+1] = prefix[b] + f.local[b] + f.cfg.RemoteWeight*f.remote[b]
	}

	center := f.cfg.BandwidthHz / 2
	bestPos := -1
	bestCost := math.Inf(1)
	for p := lo; p <= hi; p++ {
		mid := p + width/2
		cost := prefix[p+width] - prefix[p]
		cost += f.cfg.CenterBiasPerHz * math.Abs(float64(mid-center))
		if f.protectedHz > 0 && abs(mid-f.protectedHz) <= f.cfg.GuardRadiusHz {
			cost += f.cfg.GuardPenalty
		}
		if cost < bestCost {
			bestCost = cost
			bestPos = p
		}
	}
	if bestPos < 0 {
		return f.recommendation, f.hasRec
	}

	candidate := bestPos + width/2
	if f.hasRec && abs(candidate-f.recommendation) <= f.cfg.HysteresisHz {
		return f.recommendation, true
	}
	f.recommendation = candidate
	f.hasRec = true
	return candidate, true
}

// CostAt returns the occupancy cost of the window centered at the given
// offset, exposed for diagnostics and tests. The protected-frequency penalty
// is included.
func (f *Frame) CostAt(centerHz int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	width := f.cfg.GapWindowHz
	p := centerHz - width/2
	if p < 0 || p+width > f.cfg.BandwidthHz {
		return math.Inf(1)
	}
	cost := 0.0
	for b := p; b < p+width; b++ {
		cost += f.local[b] + f.cfg.RemoteWeight*f.remote[b]
	}
	cost += f.cfg.CenterBiasPerHz * math.Abs(float64(centerHz-f.cfg.BandwidthHz/2))
	if f.protectedHz > 0 && abs(centerHz-f.protectedHz) <= f.cfg.GuardRadiusHz {
		cost += f.cfg.GuardPenalty
	}
	return cost
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
