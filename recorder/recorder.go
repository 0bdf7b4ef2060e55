// Package recorder persists pileup outcomes to SQLite. Every answer a target
// makes is one labeled example of who wins a pileup under which conditions;
// the accumulated rows feed offline training of the success prior.
package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one observed answer: target picked caller out of a pileup.
type Event struct {
	Target     string
	Caller     string
	Mode       string
	Band       string
	FreqHz     int
	SNR        int
	SNRRank    int // 0 when unknown
	WasLoudest bool
	PileupSize int
	Cycle      int
	ObservedAt time.Time
}

// Recorder writes events to SQLite off the hot path. Inserts run on a
// background goroutine; a daily cap bounds database growth on busy bands.
type Recorder struct {
	db       *sql.DB
	dailyCap int

	mu       sync.Mutex
	day      string
	dayCount int
}

// New opens (or creates) the database at path. dailyCap bounds inserts per
// UTC day; zero or negative means 10000.
func New(path string, dailyCap int) (*Recorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("recorder: database path is empty")
	}
	if dailyCap <= 0 {
		dailyCap = 10000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db, dailyCap: dailyCap}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS answer_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target TEXT,
    caller TEXT,
    mode TEXT,
    band TEXT,
    freq_hz INTEGER,
    snr INTEGER,
    snr_rank INTEGER,
    was_loudest INTEGER,
    pileup_size INTEGER,
    cycle INTEGER,
    observed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_answer_events_target ON answer_events(target);
CREATE INDEX IF NOT EXISTS idx_answer_events_observed ON answer_events(observed_at);`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record queues the event for insertion. Silently drops once the daily cap
// is reached.
func (r *Recorder) Record(ev Event) {
	if r == nil || r.db == nil {
		return
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}
	day := ev.ObservedAt.UTC().Format("2006-01-02")

	r.mu.Lock()
	if day != r.day {
		r.day = day
		r.dayCount = 0
	}
	if r.dayCount >= r.dailyCap {
		r.mu.Unlock()
		return
	}
	r.dayCount++
	r.mu.Unlock()

	go r.insert(ev)
}

// RecordSync inserts the event on the calling goroutine. Used by callers
// that need the row visible immediately, and by tests.
func (r *Recorder) RecordSync(ev Event) error {
	if r == nil || r.db == nil {
		return errors.New("recorder: not initialized")
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}
	return r.exec(ev)
}

func (r *Recorder) insert(ev Event) {
	if err := r.exec(ev); err != nil {
		log.Printf("Recorder: failed to insert event: %v", err)
	}
}

func (r *Recorder) exec(ev Event) error {
	_, err := r.db.Exec(`
INSERT INTO answer_events (
    target, caller, mode, band, freq_hz, snr, snr_rank,
    was_loudest, pileup_size, cycle, observed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(ev.Target),
		strings.ToUpper(ev.Caller),
		strings.ToUpper(ev.Mode),
		ev.Band,
		ev.FreqHz,
		ev.SNR,
		ev.SNRRank,
		boolToInt(ev.WasLoudest),
		ev.PileupSize,
		ev.Cycle,
		ev.ObservedAt.UTC().Unix(),
	)
	return err
}

// CountForTarget reports stored events for a target, mainly for diagnostics
// and tests.
func (r *Recorder) CountForTarget(target string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("recorder: not initialized")
	}
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM answer_events WHERE target = ?`,
		strings.ToUpper(target)).Scan(&n)
	return n, err
}

// PurgeOlderThan deletes events observed before the cutoff.
func (r *Recorder) PurgeOlderThan(cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("recorder: not initialized")
	}
	res, err := r.db.Exec(`DELETE FROM answer_events WHERE observed_at < ?`,
		cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("recorder: purge: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
