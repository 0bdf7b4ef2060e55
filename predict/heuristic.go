package predict

import (
	"fmt"
	"strconv"
)

// HeuristicPredictor estimates success without any trained prior: a base
// probability bucketed by target SNR, multiplied by the pileup and path
// factors. Confidence is always "low".
type HeuristicPredictor struct {
	session SessionView
}

// NewHeuristicPredictor builds the model-free fallback predictor.
func NewHeuristicPredictor(session SessionView) *HeuristicPredictor {
	return &HeuristicPredictor{session: session}
}

// PredictSuccess estimates success from the target SNR feature plus pileup
// size and path status.
func (h *HeuristicPredictor) PredictSuccess(target string, features map[string]any, path PathStatus) Prediction {
	snr := featureInt(features, "target_snr", -15)

	var base float64
	switch {
	case snr >= 0:
		base = 0.40
	case snr >= -5:
		base = 0.35
	case snr >= -10:
		base = 0.25
	case snr >= -15:
		base = 0.15
	default:
		base = 0.05
	}

	factors := make(map[string]float64)
	if info, ok := h.session.GetPileupInfo(); ok {
		switch size := info.Size; {
		case size == 0:
			factors["pileup"] = 1.5
		case size <= 5:
			factors["pileup"] = 1.0
		case size <= 10:
			factors["pileup"] = 0.7
		default:
			factors["pileup"] = 0.4
		}
	}
	switch path {
	case PathConnected:
		factors["path"] = 2.0
	case PathOpen:
		factors["path"] = 1.3
	case PathNone:
		factors["path"] = 0.2
	}

	prob := base
	for _, f := range factors {
		prob *= f
	}
	prob = clampProb(prob)

	explanation := fmt.Sprintf("Heuristic: SNR %d dB", snr)
	if path != PathUnknown {
		explanation += " | Path: " + string(path)
	}
	explanation += fmt.Sprintf(" → %.0f%%", prob*100)

	return Prediction{
		Probability: prob,
		PriorProb:   base,
		LiveFactors: factors,
		Explanation: explanation,
		Confidence:  "low",
	}
}

// featureInt reads an int feature that may arrive as int, float, or string.
func featureInt(features map[string]any, key string, def int) int {
	v, ok := features[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}
