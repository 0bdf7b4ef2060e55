package pileup

import (
	"sort"
	"sync"

	"qsointel/decode"
)

// MultiTracker runs one independent Tracker per tracked callsign and fans
// every incoming decode out to all of them, so several DX targets can be
// compared before committing to one.
type MultiTracker struct {
	mu       sync.RWMutex
	myCall   string
	cfg      Config
	sink     EventSink
	trackers map[string]*Tracker
}

// NewMultiTracker creates an empty multi-target tracker.
func NewMultiTracker(myCall string, cfg Config, sink EventSink) *MultiTracker {
	cfg.normalize()
	return &MultiTracker{
		myCall:   decode.CleanCallsign(myCall),
		cfg:      cfg,
		sink:     sink,
		trackers: make(map[string]*Tracker),
	}
}

// AddTarget starts tracking a callsign. Adding an existing target is a no-op.
func (mt *MultiTracker) AddTarget(callsign, grid string) *Tracker {
	callsign = decode.CleanCallsign(callsign)
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if tr, ok := mt.trackers[callsign]; ok {
		return tr
	}
	tr := NewTracker(mt.myCall, mt.cfg, mt.sink)
	tr.SetTarget(callsign, grid, 0)
	mt.trackers[callsign] = tr
	return tr
}

// RemoveTarget stops tracking a callsign.
func (mt *MultiTracker) RemoveTarget(callsign string) {
	callsign = decode.CleanCallsign(callsign)
	mt.mu.Lock()
	defer mt.mu.Unlock()
	delete(mt.trackers, callsign)
}

// Tracker returns the tracker for a callsign, if tracked.
func (mt *MultiTracker) Tracker(callsign string) (*Tracker, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	tr, ok := mt.trackers[decode.CleanCallsign(callsign)]
	return tr, ok
}

// Targets returns the tracked callsigns, sorted.
func (mt *MultiTracker) Targets() []string {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	out := make([]string, 0, len(mt.trackers))
	for call := range mt.trackers {
		out = append(out, call)
	}
	sort.Strings(out)
	return out
}

// ProcessDecode fans the decode out to every tracked target.
func (mt *MultiTracker) ProcessDecode(d decode.Decode) {
	mt.mu.RLock()
	trackers := make([]*Tracker, 0, len(mt.trackers))
	for _, tr := range mt.trackers {
		trackers = append(trackers, tr)
	}
	mt.mu.RUnlock()
	for _, tr := range trackers {
		tr.ProcessDecode(d)
	}
}

// Best-target scoring weights: a small pileup is worth up to 50 points, the
// operator's rank up to 30, and a compatible picking pattern up to 20.
const (
	bestPileupCap   = 50.0
	bestPerCaller   = 5.0
	bestRankCap     = 30.0
	bestPerRankStep = 10.0
	bestPatternTop  = 20.0
	bestPatternMid  = 10.0
)

// BestTarget scores each tracked target and returns the most promising one.
// Targets with no pileup data yet are skipped; false when nothing scores.
func (mt *MultiTracker) BestTarget() (string, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	bestCall := ""
	bestScore := -1.0
	for call, tr := range mt.trackers {
		info, ok := tr.GetPileupInfo()
		if !ok {
			continue
		}
		if info.Size == 0 && tr.sessionHasNoData() {
			continue
		}

		score := 0.0
		if info.Size == 0 {
			score += bestPileupCap // no competition
		} else {
			s := bestPileupCap - float64(info.Size)*bestPerCaller
			if s > 0 {
				score += s
			}
		}
		if info.YourRank.Kind == RankKnown {
			s := bestRankCap - float64(info.YourRank.Position-1)*bestPerRankStep
			if s > 0 {
				score += s
			}
		}
		if behavior, ok := tr.GetTargetBehavior(); ok && behavior.HasPattern {
			if behavior.Pattern.Style == StyleLoudestFirst && info.YourRank.Kind == RankKnown {
				switch {
				case info.YourRank.Position == 1:
					score += bestPatternTop
				case info.YourRank.Position <= 3:
					score += bestPatternMid
				}
			}
		}

		if score > bestScore || (score == bestScore && call < bestCall) {
			bestScore = score
			bestCall = call
		}
	}
	if bestCall == "" {
		return "", false
	}
	return bestCall, true
}

// sessionHasNoData reports whether the tracker has observed nothing yet for
// its target (no callers ever, no answers, no CQs).
func (t *Tracker) sessionHasNoData() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.current
	if s == nil {
		return true
	}
	return len(s.Callers) == 0 && len(s.AnsweredCalls) == 0 && s.CQCount == 0
}
