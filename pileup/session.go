// Package pileup tracks per-target pileup activity from the live decode
// stream: who is calling a chosen DX station, whom the station answers, and
// what that reveals about its calling-order behavior.
package pileup

import (
	"sort"
	"time"
)

// PileupMember is a station currently calling the target, keyed by callsign
// within one session and updated in place on repeated sightings.
type PileupMember struct {
	Callsign  string
	FreqHz    int
	SNR       int
	Grid      string
	FirstSeen time.Time
	LastSeen  time.Time
	CallCount int
}

// AnsweredCall records that the target answered a caller. Append-only; the
// analyzer reads a bounded recent window.
type AnsweredCall struct {
	Callsign          string
	FreqHz            int
	SNR               int
	AnsweredAt        time.Time
	Cycle             int
	CallsBeforeAnswer int
	SNRRank           int // 1 = loudest among tracked callers at answer time
	PileupSize        int
	WasLoudest        bool // SNR within the configured tolerance of the maximum
}

// TargetSession holds everything observed about one tracked DX target.
// Mutated exclusively by its owning Tracker.
type TargetSession struct {
	Callsign     string
	Grid         string
	FreqHz       int
	Started      time.Time
	LastActivity time.Time

	CQCount    int
	QSOCount   int
	CycleCount int

	Callers       map[string]*PileupMember
	AnsweredCalls []AnsweredCall
}

func newSession(callsign, grid string, freqHz int, now time.Time) *TargetSession {
	return &TargetSession{
		Callsign: callsign,
		Grid:     grid,
		FreqHz:   freqHz,
		Started:  now,
		Callers:  make(map[string]*PileupMember),
	}
}

// PileupSize returns the number of active callers.
func (s *TargetSession) PileupSize() int {
	return len(s.Callers)
}

// QSORatePerMinute derives the observed answer rate since the session began.
func (s *TargetSession) QSORatePerMinute(now time.Time) float64 {
	if s.QSOCount == 0 {
		return 0
	}
	elapsed := now.Sub(s.Started).Minutes()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	return float64(s.QSOCount) / elapsed
}

// upsertCaller adds or refreshes a pileup member.
func (s *TargetSession) upsertCaller(call string, freqHz, snr int, grid string, now time.Time) {
	if m, ok := s.Callers[call]; ok {
		m.FreqHz = freqHz
		m.SNR = snr
		m.LastSeen = now
		m.CallCount++
		if grid != "" && m.Grid == "" {
			m.Grid = grid
		}
		return
	}
	s.Callers[call] = &PileupMember{
		Callsign:  call,
		FreqHz:    freqHz,
		SNR:       snr,
		Grid:      grid,
		FirstSeen: now,
		LastSeen:  now,
		CallCount: 1,
	}
}

// recordAnswer appends an AnsweredCall for the given caller, computes its SNR
// rank and was-loudest flag against the currently tracked callers, then
// clears the caller map: a fresh pileup begins with the next cycle. Returns
// false when the answered station was never seen calling.
func (s *TargetSession) recordAnswer(call string, cycle int, toleranceDB int, now time.Time) (AnsweredCall, bool) {
	member, ok := s.Callers[call]
	if !ok {
		return AnsweredCall{}, false
	}

	ranked := s.callersBySNR()
	rank := len(ranked)
	maxSNR := member.SNR
	for i, m := range ranked {
		if i == 0 {
			maxSNR = m.SNR
		}
		if m.Callsign == call {
			rank = i + 1
		}
	}

	answered := AnsweredCall{
		Callsign:          call,
		FreqHz:            member.FreqHz,
		SNR:               member.SNR,
		AnsweredAt:        now,
		Cycle:             cycle,
		CallsBeforeAnswer: member.CallCount,
		SNRRank:           rank,
		PileupSize:        len(s.Callers),
		WasLoudest:        member.SNR >= maxSNR-toleranceDB,
	}
	s.AnsweredCalls = append(s.AnsweredCalls, answered)
	s.QSOCount++
	s.Callers = make(map[string]*PileupMember)
	return answered, true
}

// callersBySNR returns active callers strongest first.
func (s *TargetSession) callersBySNR() []*PileupMember {
	out := make([]*PileupMember, 0, len(s.Callers))
	for _, m := range s.Callers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SNR != out[j].SNR {
			return out[i].SNR > out[j].SNR
		}
		return out[i].Callsign < out[j].Callsign
	})
	return out
}

// pruneStaleCallers drops members not seen within maxAge of now.
func (s *TargetSession) pruneStaleCallers(maxAge time.Duration, now time.Time) {
	for call, m := range s.Callers {
		if now.Sub(m.LastSeen) > maxAge {
			delete(s.Callers, call)
		}
	}
}

// recentAnswers returns the last n answered calls.
func (s *TargetSession) recentAnswers(n int) []AnsweredCall {
	if len(s.AnsweredCalls) <= n {
		return append([]AnsweredCall(nil), s.AnsweredCalls...)
	}
	return append([]AnsweredCall(nil), s.AnsweredCalls[len(s.AnsweredCalls)-n:]...)
}
