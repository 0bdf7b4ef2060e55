package pileup

import (
	"log"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"qsointel/decode"
)

// Config holds the tracker's heuristic constants. The loudest tolerance and
// staleness window are tuned defaults rather than invariants.
type Config struct {
	LoudestToleranceDB int           `yaml:"loudest_tolerance_db"` // "was loudest" slack against the max SNR
	StaleAfter         time.Duration `yaml:"stale_after"`          // Caller pruned when unseen this long
	CycleSeconds       int           `yaml:"cycle_seconds"`        // Protocol transmit/receive cadence
	MergeRadiusHz      int           `yaml:"merge_radius_hz"`      // Near-miss callsign merge frequency slack
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		LoudestToleranceDB: 1,
		StaleAfter:         300 * time.Second,
		CycleSeconds:       15,
		MergeRadiusHz:      5,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.LoudestToleranceDB < 0 {
		c.LoudestToleranceDB = d.LoudestToleranceDB
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.CycleSeconds <= 0 {
		c.CycleSeconds = d.CycleSeconds
	}
	if c.MergeRadiusHz < 0 {
		c.MergeRadiusHz = d.MergeRadiusHz
	}
}

// RankKind discriminates the operator's position in a pileup.
type RankKind int

const (
	// RankNotInPileup means the operator is not currently calling.
	RankNotInPileup RankKind = iota
	// RankUnknown means the operator is transmitting and cannot hear their
	// own signal, so no rank can be derived.
	RankUnknown
	// RankKnown carries a 1-based position by signal strength.
	RankKnown
)

// Rank is a tagged variant for "your rank in the pileup".
type Rank struct {
	Kind     RankKind
	Position int // valid only when Kind == RankKnown
}

// Info summarizes the current pileup for one target.
type Info struct {
	Size     int
	Callers  []PileupMember // strongest first
	YourRank Rank
	Loudest  *PileupMember
	FreqLow  int
	FreqHigh int
	HasRange bool
}

// Behavior summarizes the target's observed answering behavior.
type Behavior struct {
	Callsign   string
	QSOCount   int
	QSORate    float64 // answers per minute
	CQCount    int
	Answers    []AnsweredCall // last 10
	Pattern    PickingPattern
	HasPattern bool
}

// YourStatus describes the operator's own standing against the target.
type YourStatus struct {
	InPileup  bool
	Rank      Rank
	Total     int
	CallsMade int
	TXFreqHz  int
}

// EventSink receives tracker notifications. Implementations must be fast and
// non-blocking; the tracker calls them with its lock released.
type EventSink interface {
	PileupUpdated(target string, size int)
	AnswerDetected(target string, answer AnsweredCall)
	PatternDetected(target string, pattern PickingPattern)
	TargetCallingYou(target string, d decode.Decode)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) PileupUpdated(string, int)              {}
func (NopSink) AnswerDetected(string, AnsweredCall)    {}
func (NopSink) PatternDetected(string, PickingPattern) {}
func (NopSink) TargetCallingYou(string, decode.Decode) {}

// Tracker maintains one target session per tracked callsign and processes
// classified decodes strictly in arrival order. All state is guarded by one
// mutex; event callbacks run outside it.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	myCall string
	sink   EventSink
	now    func() time.Time

	current  *TargetSession
	sessions map[string]*TargetSession

	txEnabled bool
	txFreqHz  int
	callsMade int

	currentCycle  int
	lastCycleTime time.Time
}

// NewTracker creates a tracker for the given operator callsign. A nil sink
// discards events.
func NewTracker(myCall string, cfg Config, sink EventSink) *Tracker {
	cfg.normalize()
	if sink == nil {
		sink = NopSink{}
	}
	return &Tracker{
		cfg:      cfg,
		myCall:   decode.CleanCallsign(myCall),
		sink:     sink,
		now:      time.Now,
		sessions: make(map[string]*TargetSession),
	}
}

// SetTarget selects (or resumes) the primary target session.
func (t *Tracker) SetTarget(callsign, grid string, freqHz int) {
	callsign = decode.CleanCallsign(callsign)
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[callsign]; ok {
		t.current = s
		return
	}
	s := newSession(callsign, grid, freqHz, t.now())
	t.sessions[callsign] = s
	t.current = s
	log.Printf("Pileup: target set %s", callsign)
}

// ClearTarget drops the current session reference. Further decodes for the
// now-untracked target are silently ignored; this is safe to call
// concurrently with an in-flight decode batch.
func (t *Tracker) ClearTarget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
}

// ClearAll resets every session and the cycle clock (e.g., on band change).
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
	t.sessions = make(map[string]*TargetSession)
	t.currentCycle = 0
	t.lastCycleTime = time.Time{}
	t.callsMade = 0
}

// Target returns the current target callsign, if any.
func (t *Tracker) Target() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return "", false
	}
	return t.current.Callsign, true
}

// SetTXStatus records whether the operator is transmitting and on which
// audio offset. Each rising edge counts as one call made toward the target.
func (t *Tracker) SetTXStatus(enabled bool, freqHz int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enabled && !t.txEnabled {
		t.callsMade++
	}
	t.txEnabled = enabled
	if freqHz > 0 {
		t.txFreqHz = freqHz
	}
}

// event captures a notification to deliver after the lock is released.
type event struct {
	kind    int
	target  string
	size    int
	answer  AnsweredCall
	pattern PickingPattern
	decode  decode.Decode
}

const (
	evPileup = iota
	evAnswer
	evPattern
	evCallingYou
)

// ProcessDecode consumes one classified decode. Unparsable messages and
// messages unrelated to the current target are ignored without error.
func (t *Tracker) ProcessDecode(d decode.Decode) {
	if d.Callsign == "" {
		return
	}

	t.mu.Lock()
	events := t.processLocked(d)
	t.mu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case evPileup:
			t.sink.PileupUpdated(ev.target, ev.size)
		case evAnswer:
			t.sink.AnswerDetected(ev.target, ev.answer)
		case evPattern:
			t.sink.PatternDetected(ev.target, ev.pattern)
		case evCallingYou:
			t.sink.TargetCallingYou(ev.target, ev.decode)
		}
	}
}

func (t *Tracker) processLocked(d decode.Decode) []event {
	t.updateCycle(d.Timestamp)

	s := t.current
	if s == nil {
		return nil
	}

	caller := decode.NormalizeCallsign(d.Callsign)
	callee := decode.NormalizeCallsign(d.Addressee)
	target := s.Callsign

	switch {
	case d.IsCQ && caller == target:
		s.CQCount++
		s.LastActivity = d.Timestamp
		if d.Grid != "" && s.Grid == "" {
			s.Grid = d.Grid
		}
		if d.FreqHz > 0 {
			s.FreqHz = d.FreqHz
		}
		return nil

	case callee == target:
		t.upsertWithMerge(s, caller, d)
		s.LastActivity = d.Timestamp
		return []event{{kind: evPileup, target: target, size: s.PileupSize()}}

	case caller == target && callee == t.myCall:
		return []event{{kind: evCallingYou, target: target, decode: d}}

	case caller == target && d.IsReply && callee != "":
		answer, ok := s.recordAnswer(callee, t.currentCycle, t.cfg.LoudestToleranceDB, d.Timestamp)
		s.LastActivity = d.Timestamp
		if !ok {
			return nil
		}
		events := []event{{kind: evAnswer, target: target, answer: answer}}
		if len(s.AnsweredCalls) >= patternMinAnswers {
			if p, found := AnalyzePattern(s.recentAnswers(patternWindow)); found {
				events = append(events, event{kind: evPattern, target: target, pattern: p})
			}
		}
		return events
	}
	return nil
}

// upsertWithMerge folds decoder near-misses into an existing member: a new
// callsign within edit distance 1 of a tracked caller at nearly the same
// frequency is almost always the same station decoded with a bit error.
func (t *Tracker) upsertWithMerge(s *TargetSession, caller string, d decode.Decode) {
	if _, exists := s.Callers[caller]; !exists {
		for call, m := range s.Callers {
			if abs(m.FreqHz-d.FreqHz) <= t.cfg.MergeRadiusHz &&
				levenshtein.ComputeDistance(call, caller) == 1 {
				caller = call
				break
			}
		}
	}
	s.upsertCaller(caller, d.FreqHz, d.SNR, d.Grid, d.Timestamp)
}

// updateCycle advances the logical cycle counter when at least one full
// protocol period has elapsed, and prunes stale callers on each advance.
func (t *Tracker) updateCycle(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if t.lastCycleTime.IsZero() {
		t.lastCycleTime = ts
		return
	}
	elapsed := ts.Sub(t.lastCycleTime).Seconds()
	period := float64(t.cfg.CycleSeconds)
	if elapsed < period {
		return
	}
	t.currentCycle += int(elapsed / period)
	t.lastCycleTime = ts
	for _, s := range t.sessions {
		s.pruneStaleCallers(t.cfg.StaleAfter, ts)
		s.CycleCount = t.currentCycle
	}
}

// GetPileupInfo returns the current pileup summary, or false when no target
// is selected.
func (t *Tracker) GetPileupInfo() (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Info{}, false
	}
	return t.infoLocked(t.current), true
}

func (t *Tracker) infoLocked(s *TargetSession) Info {
	ranked := s.callersBySNR()
	info := Info{Size: len(ranked), YourRank: Rank{Kind: RankNotInPileup}}
	if len(ranked) == 0 {
		if t.txEnabled {
			info.YourRank = Rank{Kind: RankUnknown}
		}
		return info
	}

	info.Callers = make([]PileupMember, len(ranked))
	for i, m := range ranked {
		info.Callers[i] = *m
		if m.Callsign == t.myCall {
			info.YourRank = Rank{Kind: RankKnown, Position: i + 1}
		}
	}
	info.Loudest = &info.Callers[0]

	info.FreqLow = ranked[0].FreqHz
	info.FreqHigh = ranked[0].FreqHz
	for _, m := range ranked[1:] {
		if m.FreqHz < info.FreqLow {
			info.FreqLow = m.FreqHz
		}
		if m.FreqHz > info.FreqHigh {
			info.FreqHigh = m.FreqHz
		}
	}
	info.HasRange = true

	if info.YourRank.Kind == RankNotInPileup && t.txEnabled {
		// Transmitting: we are in the pileup but cannot hear ourselves.
		info.YourRank = Rank{Kind: RankUnknown}
	}
	return info
}

// GetTargetBehavior returns the target's observed behavior, or false when no
// target is selected.
func (t *Tracker) GetTargetBehavior() (Behavior, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Behavior{}, false
	}
	s := t.current
	b := Behavior{
		Callsign: s.Callsign,
		QSOCount: s.QSOCount,
		QSORate:  s.QSORatePerMinute(t.now()),
		CQCount:  s.CQCount,
		Answers:  s.recentAnswers(patternWindow),
	}
	b.Pattern, b.HasPattern = AnalyzePattern(b.Answers)
	return b, true
}

// GetYourStatus reports the operator's standing in the current pileup.
func (t *Tracker) GetYourStatus() YourStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	status := YourStatus{Rank: Rank{Kind: RankNotInPileup}, TXFreqHz: t.txFreqHz, CallsMade: t.callsMade}
	if t.current == nil {
		return status
	}
	status.Total = t.current.PileupSize()
	if t.txEnabled {
		status.InPileup = true
		status.Rank = Rank{Kind: RankUnknown}
		return status
	}
	info := t.infoLocked(t.current)
	if info.YourRank.Kind == RankKnown {
		status.InPileup = true
		status.Rank = info.YourRank
	}
	return status
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
