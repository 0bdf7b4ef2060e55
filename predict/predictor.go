// Package predict fuses a pretrained prior with live pileup evidence via
// log-odds arithmetic, producing a success probability and a recommended
// strategy for the current target.
package predict

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"qsointel/pileup"
)

// PathStatus describes whether evidence exists that the target can currently
// receive the operator's transmissions.
type PathStatus string

const (
	PathConnected PathStatus = "connected" // target has heard the operator
	PathOpen      PathStatus = "path_open" // path exists but unconfirmed
	PathNone      PathStatus = "no_path"
	PathUnknown   PathStatus = "unknown"
)

// PriorResult is the external scorer's binary verdict with confidence.
type PriorResult struct {
	Prediction int     // 0 or 1
	Confidence float64 // 0-1
}

// PriorScorer supplies the pretrained prior. A nil result means the scorer
// declines to answer (no model available); the predictor then falls back to
// the default prior.
type PriorScorer interface {
	Predict(model string, features map[string]any) (*PriorResult, error)
}

// SessionView is the read-only slice of the session tracker the predictor
// consumes. *pileup.Tracker satisfies it.
type SessionView interface {
	GetPileupInfo() (pileup.Info, bool)
	GetTargetBehavior() (pileup.Behavior, bool)
	GetYourStatus() pileup.YourStatus
}

// Prediction is a fused probability with its provenance.
type Prediction struct {
	Probability float64            // clamped to (0.01, 0.99)
	PriorProb   float64            // what the prior contributed
	LiveFactors map[string]float64 // named multiplicative factors applied
	Explanation string
	Confidence  string // "low", "medium", "high"
}

// StrategyRecommendation is the UI-facing call/wait advice.
type StrategyRecommendation struct {
	TargetCall        string
	RecommendedAction string // "call_now", "wait", "try_later"
	RecommendedFreqHz int    // 0 when no position advice applies
	Reasons           []string
}

const (
	ActionCallNow  = "call_now"
	ActionWait     = "wait"
	ActionTryLater = "try_later"

	defaultPrior   = 0.20
	successModel   = "success_model"
	maxReasons     = 3
	probFloor      = 0.01
	probCeil       = 0.99
	priorLogFloor  = 0.001
	highConfidence = 5 // observed QSOs needed for a "high" label
)

// factorWeights scale each live factor's log-odds contribution. Path status
// is the single most heavily weighted signal.
var factorWeights = map[string]float64{
	"pileup":         1.0,
	"snr_rank":       1.0,
	"behavior_match": 1.0,
	"path":           1.5,
	"persistence":    0.8,
}

// Predictor combines the prior scorer with live session evidence.
type Predictor struct {
	scorer  PriorScorer // may be nil
	session SessionView
	cache   *Cache
}

// NewPredictor wires a predictor to its session view and optional scorer
// with default cache sizing.
func NewPredictor(scorer PriorScorer, session SessionView) *Predictor {
	return NewPredictorWithCache(scorer, session, 0, 0)
}

// NewPredictorWithCache is NewPredictor with explicit cache sizing. Zero
// values fall back to the defaults.
func NewPredictorWithCache(scorer PriorScorer, session SessionView, maxEntries, ttlSeconds int) *Predictor {
	return &Predictor{
		scorer:  scorer,
		session: session,
		cache:   NewCache(maxEntries, ttlSeconds),
	}
}

// PredictSuccess fuses the prior with live factors for the target. Results
// are cached briefly, keyed by target, path status, and feature snapshot.
func (p *Predictor) PredictSuccess(target string, features map[string]any, path PathStatus) Prediction {
	key := cacheKey(target, string(path), features)
	if cached, ok := p.cache.Get(key); ok {
		return cached
	}

	prior, hasModel := p.priorProbability(features)

	info, hasInfo := p.session.GetPileupInfo()
	behavior, hasBehavior := p.session.GetTargetBehavior()
	status := p.session.GetYourStatus()

	factors := liveFactors(info, hasInfo, behavior, hasBehavior, status, path)
	posterior := fuse(prior, factors)

	qsoCount := 0
	if hasBehavior {
		qsoCount = behavior.QSOCount
	}

	result := Prediction{
		Probability: posterior,
		PriorProb:   prior,
		LiveFactors: factors,
		Confidence:  confidenceLabel(hasModel, hasInfo, qsoCount),
		Explanation: explain(prior, hasModel, factors, posterior, path),
	}
	p.cache.Set(key, result)
	return result
}

// priorProbability maps the scorer's binary verdict to a probability, or
// falls back to the default prior.
func (p *Predictor) priorProbability(features map[string]any) (float64, bool) {
	if p.scorer == nil {
		return defaultPrior, false
	}
	res, err := p.scorer.Predict(successModel, features)
	if err != nil || res == nil {
		return defaultPrior, false
	}
	if res.Prediction == 1 {
		return res.Confidence, true
	}
	return 1.0 - res.Confidence, true
}

// liveFactors derives the multiplicative evidence factors. Each is computed
// independently; absent evidence simply contributes no factor.
func liveFactors(info pileup.Info, hasInfo bool, behavior pileup.Behavior, hasBehavior bool,
	status pileup.YourStatus, path PathStatus) map[string]float64 {

	factors := make(map[string]float64)

	if hasInfo {
		switch size := info.Size; {
		case size == 0:
			factors["pileup"] = 1.5
		case size <= 3:
			factors["pileup"] = 1.2
		case size <= 6:
			factors["pileup"] = 1.0
		case size <= 10:
			factors["pileup"] = 0.7
		default:
			factors["pileup"] = 0.4
		}
	}

	if status.InPileup && status.Rank.Kind == pileup.RankKnown {
		rank := status.Rank.Position
		switch {
		case rank == 1:
			factors["snr_rank"] = 1.4
		case rank <= 3:
			factors["snr_rank"] = 1.2
		case rank <= status.Total/2:
			factors["snr_rank"] = 1.0
		default:
			factors["snr_rank"] = 0.7
		}
	}

	if hasBehavior && behavior.HasPattern {
		if f, ok := behaviorMatchFactor(behavior.Pattern, info, hasInfo, status); ok {
			factors["behavior_match"] = f
		}
	}

	switch path {
	case PathConnected:
		factors["path"] = 2.0
	case PathOpen:
		factors["path"] = 1.3
	case PathNone:
		factors["path"] = 0.3
	default:
		factors["path"] = 1.0
	}

	switch calls := status.CallsMade; {
	case calls == 0:
		factors["persistence"] = 1.0
	case calls <= 2:
		factors["persistence"] = 1.05
	case calls <= 5:
		factors["persistence"] = 1.0
	default:
		factors["persistence"] = 0.95
	}

	return factors
}

// behaviorMatchFactor scores how well the operator's position matches the
// target's detected picking style. Returns false when the style needs
// evidence (rank or TX frequency) that is unavailable.
func behaviorMatchFactor(pattern pileup.PickingPattern, info pileup.Info, hasInfo bool,
	status pileup.YourStatus) (float64, bool) {

	switch pattern.Style {
	case pileup.StyleLoudestFirst:
		if status.Rank.Kind != pileup.RankKnown {
			return 0, false
		}
		switch {
		case status.Rank.Position == 1:
			return 1.5, true
		case status.Rank.Position <= 3:
			return 1.1, true
		default:
			return 0.6, true
		}

	case pileup.StyleMethodicalLowHi, pileup.StyleMethodicalHiLow:
		if !hasInfo || !info.HasRange || status.TXFreqHz == 0 {
			return 0, false
		}
		span := float64(info.FreqHigh - info.FreqLow)
		pos := float64(status.TXFreqHz - info.FreqLow)
		if pattern.Style == pileup.StyleMethodicalLowHi {
			if pos <= span*0.3 {
				return 1.3, true
			}
			return 0.8, true
		}
		if pos >= span*0.7 {
			return 1.3, true
		}
		return 0.8, true

	case pileup.StyleRandom:
		if status.CallsMade >= 3 {
			return 1.1, true
		}
		return 1.0, true
	}
	return 0, false
}

// fuse converts the prior to log-odds, adds each factor's weighted log, and
// converts back, clamping away from the singularities.
func fuse(prior float64, factors map[string]float64) float64 {
	logOdds := probToLogOdds(prior)
	for name, value := range factors {
		weight, ok := factorWeights[name]
		if !ok {
			weight = 1.0
		}
		logOdds += weight * math.Log(value)
	}
	return clampProb(logOddsToProb(logOdds))
}

func probToLogOdds(p float64) float64 {
	if p < priorLogFloor {
		p = priorLogFloor
	}
	if p > 1-priorLogFloor {
		p = 1 - priorLogFloor
	}
	return math.Log(p / (1 - p))
}

func logOddsToProb(lo float64) float64 {
	return 1.0 / (1.0 + math.Exp(-lo))
}

func clampProb(p float64) float64 {
	return math.Max(probFloor, math.Min(probCeil, p))
}

// confidenceLabel grades the prediction's evidentiary basis.
func confidenceLabel(hasModel, hasLiveData bool, qsoCount int) string {
	if hasModel && hasLiveData && qsoCount >= highConfidence {
		return "high"
	}
	if hasModel || (hasLiveData && qsoCount >= 3) {
		return "medium"
	}
	return "low"
}

// explain builds the short human-readable breakdown: prior contribution,
// factors that moved the needle, path callouts, final probability.
func explain(prior float64, hasModel bool, factors map[string]float64, posterior float64, path PathStatus) string {
	parts := make([]string, 0, 6)
	if hasModel {
		parts = append(parts, fmt.Sprintf("Model: %.0f%%", prior*100))
	} else {
		parts = append(parts, fmt.Sprintf("Base: %.0f%%", prior*100))
	}

	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch v := factors[name]; {
		case v < 0.7:
			parts = append(parts, "↓"+name)
		case v > 1.3:
			parts = append(parts, "↑"+name)
		}
	}

	switch path {
	case PathConnected:
		parts = append(parts, "★CONNECTED")
	case PathNone:
		parts = append(parts, "⚠no_path")
	}

	parts = append(parts, fmt.Sprintf("→ %.0f%%", posterior*100))
	return strings.Join(parts, " | ")
}

// InvalidateCache drops cached predictions; with a target it drops only that
// target's entries. Required on target or path-status change.
func (p *Predictor) InvalidateCache(target string) {
	p.cache.Invalidate(target)
}
