// Package engine wires the decode classifier, spectral occupancy map, pileup
// trackers, and predictor into one object behind a single ingest surface.
//
// Decodes enter strictly in arrival order through IngestDecode; spot batches
// and the decay tick arrive on their own cadence. One mutex guards the
// engine's own bookkeeping; each component keeps its own locking, so UI
// reads never stall ingest for long.
package engine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"qsointel/decode"
	"qsointel/gridcache"
	"qsointel/pileup"
	"qsointel/predict"
	"qsointel/pskreporter"
	"qsointel/recorder"
	"qsointel/spectral"
	"qsointel/wsjtx"
)

const (
	decayInterval   = 100 * time.Millisecond
	refreshInterval = 2 * time.Second

	// Path evidence goes stale after this long without reinforcement.
	pathEvidenceTTL = 15 * time.Minute
)

// Options configures the engine. Grids, Events, Scorer, and Sink are all
// optional.
type Options struct {
	MyCall      string
	MyGrid      string
	Spectral    spectral.Config
	Pileup      pileup.Config
	DedupWindow time.Duration
	Scorer      predict.PriorScorer
	Sink        pileup.EventSink
	Grids       *gridcache.Store
	Events      *recorder.Recorder

	// Prediction cache sizing; zero values use the predict defaults.
	CacheMaxEntries int
	CacheTTLSeconds int
}

// Engine is the live intelligence facade.
type Engine struct {
	myCall string
	myGrid string

	frame    *spectral.Frame
	trackers *pileup.MultiTracker
	dedup    *decode.Deduplicator
	grids    *gridcache.Store
	events   *recorder.Recorder
	sink     pileup.EventSink

	hasScorer bool

	mu          sync.Mutex
	current     *pileup.Tracker
	currentCall string
	predictor   *predict.Predictor
	heuristic   *predict.HeuristicPredictor
	dialHz      int64
	txEnabled   bool
	band        string
	heardMe     map[string]time.Time // target's receiver reported my signal
	heardTarget map[string]time.Time // I decoded the target locally

	decodesSeen uint64
	spotsSeen   uint64

	now func() time.Time
}

// New builds an engine. The pileup sink in opts receives tracker events
// after the engine's own processing (answer recording).
func New(opts Options) *Engine {
	e := &Engine{
		myCall:      decode.CleanCallsign(opts.MyCall),
		myGrid:      strings.ToUpper(opts.MyGrid),
		frame:       spectral.NewFrame(opts.Spectral),
		dedup:       decode.NewDeduplicator(opts.DedupWindow),
		grids:       opts.Grids,
		events:      opts.Events,
		sink:        opts.Sink,
		heardMe:     make(map[string]time.Time),
		heardTarget: make(map[string]time.Time),
		now:         time.Now,
	}
	if e.sink == nil {
		e.sink = pileup.NopSink{}
	}
	// The engine interposes on tracker events to persist answers before the
	// UI sink sees them.
	e.trackers = pileup.NewMultiTracker(e.myCall, opts.Pileup, (*recordingSink)(e))
	e.hasScorer = opts.Scorer != nil
	e.predictor = predict.NewPredictorWithCache(opts.Scorer, sessionView{e}, opts.CacheMaxEntries, opts.CacheTTLSeconds)
	e.heuristic = predict.NewHeuristicPredictor(sessionView{e})
	return e
}

// recordingSink forwards tracker events to the configured sink, persisting
// answers to the recorder on the way through.
type recordingSink Engine

func (s *recordingSink) PileupUpdated(target string, size int) {
	(*Engine)(s).sink.PileupUpdated(target, size)
}

func (s *recordingSink) AnswerDetected(target string, answer pileup.AnsweredCall) {
	e := (*Engine)(s)
	if e.events != nil {
		e.mu.Lock()
		band := e.band
		e.mu.Unlock()
		e.events.Record(recorder.Event{
			Target:     target,
			Caller:     answer.Callsign,
			Mode:       "FT8",
			Band:       band,
			FreqHz:     answer.FreqHz,
			SNR:        answer.SNR,
			SNRRank:    answer.SNRRank,
			WasLoudest: answer.WasLoudest,
			PileupSize: answer.PileupSize,
			Cycle:      answer.Cycle,
			ObservedAt: answer.AnsweredAt,
		})
	}
	e.predictor.InvalidateCache(target)
	e.sink.AnswerDetected(target, answer)
}

func (s *recordingSink) PatternDetected(target string, pattern pileup.PickingPattern) {
	(*Engine)(s).sink.PatternDetected(target, pattern)
}

func (s *recordingSink) TargetCallingYou(target string, d decode.Decode) {
	(*Engine)(s).sink.TargetCallingYou(target, d)
}

// sessionView exposes the current target's session to the predictor.
type sessionView struct {
	e *Engine
}

func (v sessionView) GetPileupInfo() (pileup.Info, bool) {
	v.e.mu.Lock()
	t := v.e.current
	v.e.mu.Unlock()
	if t == nil {
		return pileup.Info{}, false
	}
	return t.GetPileupInfo()
}

func (v sessionView) GetTargetBehavior() (pileup.Behavior, bool) {
	v.e.mu.Lock()
	t := v.e.current
	v.e.mu.Unlock()
	if t == nil {
		return pileup.Behavior{}, false
	}
	return t.GetTargetBehavior()
}

func (v sessionView) GetYourStatus() pileup.YourStatus {
	v.e.mu.Lock()
	t := v.e.current
	v.e.mu.Unlock()
	if t == nil {
		return pileup.YourStatus{}
	}
	return t.GetYourStatus()
}

// SetTarget begins (or resumes) tracking a target and makes it current for
// predictions.
func (e *Engine) SetTarget(callsign, grid string) {
	callsign = decode.CleanCallsign(callsign)
	if callsign == "" {
		return
	}
	tracker := e.trackers.AddTarget(callsign, grid)

	e.mu.Lock()
	changed := e.currentCall != callsign
	e.current = tracker
	e.currentCall = callsign
	e.mu.Unlock()

	// The previous target's protected offset is stale for a new target.
	if changed {
		e.frame.SetProtectedFrequency(0)
	}
	e.predictor.InvalidateCache(callsign)
}

// ClearTarget stops treating the current target as primary. Its session
// keeps accumulating in the background.
func (e *Engine) ClearTarget() {
	e.mu.Lock()
	call := e.currentCall
	e.current = nil
	e.currentCall = ""
	e.mu.Unlock()

	e.frame.SetProtectedFrequency(0)
	if call != "" {
		e.predictor.InvalidateCache(call)
	}
}

// Target returns the current primary target, if any.
func (e *Engine) Target() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentCall, e.currentCall != ""
}

// RemoveTarget drops a tracked target entirely.
func (e *Engine) RemoveTarget(callsign string) {
	callsign = decode.CleanCallsign(callsign)
	e.trackers.RemoveTarget(callsign)

	e.mu.Lock()
	if e.currentCall == callsign {
		e.current = nil
		e.currentCall = ""
	}
	delete(e.heardMe, callsign)
	delete(e.heardTarget, callsign)
	e.mu.Unlock()

	e.predictor.InvalidateCache(callsign)
}

// IngestDecode classifies one decode, feeds the spectral map, and fans it to
// every tracked session. Callers must deliver decodes in arrival order.
func (e *Engine) IngestDecode(d decode.Decode) {
	d.DeriveFields()
	if e.dedup.IsDuplicate(d) {
		return
	}

	e.mu.Lock()
	e.decodesSeen++
	now := e.now()
	e.mu.Unlock()

	if e.grids != nil && d.Callsign != "" {
		if d.Grid != "" {
			if err := e.grids.Observe(d.Callsign, d.Grid, d.Timestamp); err != nil {
				log.Printf("Engine: grid observe %s: %v", d.Callsign, err)
			}
		} else if grid, err := e.grids.Lookup(d.Callsign); err == nil && grid != "" {
			d.Grid = grid
		}
	}

	e.frame.IngestLocalDecodes([]decode.Decode{d}, now)

	if d.Callsign != "" {
		for _, target := range e.trackers.Targets() {
			if target == d.Callsign {
				e.mu.Lock()
				e.heardTarget[target] = now
				isCurrent := target == e.currentCall
				e.mu.Unlock()
				// Keep the gap finder off the current target's own offset.
				if isCurrent {
					e.frame.SetProtectedFrequency(d.FreqHz)
				}
			}
		}
	}

	e.trackers.ProcessDecode(d)
}

// IngestFromWSJTX converts a raw UDP decode into the canonical form using
// the last known dial frequency and band.
func (e *Engine) IngestFromWSJTX(d wsjtx.Decode, midnight time.Time) {
	e.mu.Lock()
	dial := e.dialHz
	band := e.band
	e.mu.Unlock()

	e.IngestDecode(decode.Decode{
		Timestamp:  midnight.Add(d.Time),
		SNR:        int(d.SNR),
		DT:         d.DTSeconds,
		FreqHz:     int(d.OffsetHz),
		Mode:       d.Mode,
		Message:    strings.TrimSpace(d.Message),
		Source:     "udp",
		Band:       band,
		DialFreqHz: dial,
	})
}

// HandleStatus applies a WSJT-X status update: dial frequency, TX state, and
// TX audio offset.
func (e *Engine) HandleStatus(s wsjtx.Status) {
	e.mu.Lock()
	e.dialHz = int64(s.DialFreqHz)
	e.band = bandForDialHz(int64(s.DialFreqHz))
	e.txEnabled = s.TXEnabled
	current := e.current
	e.mu.Unlock()

	if current != nil {
		current.SetTXStatus(s.Transmitting, int(s.TxDF))
	}
}

// IngestSpotBatch folds remote reception reports into the spectral map and
// the path evidence table.
func (e *Engine) IngestSpotBatch(spots []pskreporter.Spot) {
	e.mu.Lock()
	dial := e.dialHz
	now := e.now()
	e.spotsSeen += uint64(len(spots))
	bandwidth := e.frameBandwidth()
	for _, s := range spots {
		sender := decode.CleanCallsign(s.Sender)
		receiver := decode.CleanCallsign(s.Receiver)
		if sender == e.myCall {
			// Someone heard me; if that someone is a tracked target, the
			// path is confirmed.
			e.heardMe[receiver] = now
		}
	}
	e.mu.Unlock()

	if dial == 0 {
		return
	}
	reports := make([]spectral.Interference, 0, len(spots))
	for _, s := range spots {
		offset := int(s.FreqHz - dial)
		if offset < 0 || offset >= bandwidth {
			continue
		}
		age := now.Sub(s.Time)
		if age < 0 {
			age = 0
		}
		reports = append(reports, spectral.Interference{
			OffsetHz: offset,
			SNR:      s.SNR,
			Age:      age,
		})
	}
	if len(reports) > 0 {
		e.frame.IngestRemoteInterference(reports)
	}
}

func (e *Engine) frameBandwidth() int {
	local, _ := e.frame.Snapshot()
	return len(local)
}

// PathStatusFor derives the path evidence for a target: confirmed when the
// target's receiver has reported the operator's signal recently, open when
// the target's own transmissions are decoding locally, no-path when TX is
// disabled.
func (e *Engine) PathStatusFor(target string) predict.PathStatus {
	target = decode.CleanCallsign(target)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if t, ok := e.heardMe[target]; ok && now.Sub(t) < pathEvidenceTTL {
		return predict.PathConnected
	}
	if !e.txEnabled {
		return predict.PathNone
	}
	if t, ok := e.heardTarget[target]; ok && now.Sub(t) < pathEvidenceTTL {
		return predict.PathOpen
	}
	return predict.PathUnknown
}

// PredictSuccess runs the predictor against the current target session. With
// no prior scorer wired the simpler SNR-bucketed heuristic answers instead.
func (e *Engine) PredictSuccess(features map[string]any) (predict.Prediction, bool) {
	e.mu.Lock()
	call := e.currentCall
	e.mu.Unlock()
	if call == "" {
		return predict.Prediction{}, false
	}
	if !e.hasScorer {
		return e.heuristic.PredictSuccess(call, features, e.PathStatusFor(call)), true
	}
	return e.predictor.PredictSuccess(call, features, e.PathStatusFor(call)), true
}

// GetStrategy runs the strategy advisor against the current target session.
func (e *Engine) GetStrategy(competitionText string) (predict.StrategyRecommendation, bool) {
	e.mu.Lock()
	call := e.currentCall
	e.mu.Unlock()
	if call == "" {
		return predict.StrategyRecommendation{}, false
	}
	return e.predictor.GetStrategy(call, e.PathStatusFor(call), competitionText), true
}

// FindBestGap recomputes and returns the recommended TX offset.
func (e *Engine) FindBestGap() (int, bool) {
	return e.frame.FindBestGap()
}

// GetPileupInfo reads the current target's pileup summary.
func (e *Engine) GetPileupInfo() (pileup.Info, bool) {
	return sessionView{e}.GetPileupInfo()
}

// GetTargetBehavior reads the current target's answering behavior.
func (e *Engine) GetTargetBehavior() (pileup.Behavior, bool) {
	return sessionView{e}.GetTargetBehavior()
}

// GetYourStatus reads the operator's standing against the current target.
func (e *Engine) GetYourStatus() pileup.YourStatus {
	return sessionView{e}.GetYourStatus()
}

// BestTarget scores all tracked targets and returns the most workable one.
func (e *Engine) BestTarget() (string, bool) {
	return e.trackers.BestTarget()
}

// Waterfall exposes the spectral history ring for rendering.
func (e *Engine) Waterfall() []spectral.Row {
	return e.frame.Waterfall()
}

// SpectralSnapshot exposes the current intensity arrays for rendering.
func (e *Engine) SpectralSnapshot() (local, remote []float64) {
	return e.frame.Snapshot()
}

// Stats reports ingest counters: decodes seen, decodes suppressed as
// duplicates, and spots seen.
func (e *Engine) Stats() (decodes, duplicates, spots uint64) {
	_, dropped := e.dedup.Stats()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decodesSeen, dropped, e.spotsSeen
}

// Run drives the periodic work: spectral decay every 100 ms and a gap
// recommendation refresh every 2 s. Returns when the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	decay := time.NewTicker(decayInterval)
	defer decay.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-decay.C:
			e.frame.DecayTick(now)
		case <-refresh.C:
			e.frame.FindBestGap()
			e.expirePathEvidence()
		}
	}
}

// expirePathEvidence drops stale entries so the maps stay bounded.
func (e *Engine) expirePathEvidence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for call, t := range e.heardMe {
		if now.Sub(t) >= pathEvidenceTTL {
			delete(e.heardMe, call)
		}
	}
	for call, t := range e.heardTarget {
		if now.Sub(t) >= pathEvidenceTTL {
			delete(e.heardTarget, call)
		}
	}
}

// bandForDialHz maps a dial frequency to its amateur band label.
func bandForDialHz(hz int64) string {
	mhz := float64(hz) / 1e6
	switch {
	case mhz >= 1.8 && mhz < 2.0:
		return "160m"
	case mhz >= 3.5 && mhz < 4.0:
		return "80m"
	case mhz >= 5.3 && mhz < 5.5:
		return "60m"
	case mhz >= 7.0 && mhz < 7.3:
		return "40m"
	case mhz >= 10.1 && mhz < 10.15:
		return "30m"
	case mhz >= 14.0 && mhz < 14.35:
		return "20m"
	case mhz >= 18.068 && mhz < 18.168:
		return "17m"
	case mhz >= 21.0 && mhz < 21.45:
		return "15m"
	case mhz >= 24.89 && mhz < 24.99:
		return "12m"
	case mhz >= 28.0 && mhz < 29.7:
		return "10m"
	case mhz >= 50.0 && mhz < 54.0:
		return "6m"
	case mhz >= 144.0 && mhz < 148.0:
		return "2m"
	default:
		return ""
	}
}
