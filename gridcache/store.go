// Package gridcache persists callsign-to-locator mappings in a Pebble
// key/value store. Decodes carry a grid only on CQ and first replies, so the
// cache backfills locators for callers whose grid arrived in an earlier
// transmission, possibly days ago.
package gridcache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

const (
	recordVersion    = 1
	recordHeaderSize = 20

	callPrefix    = "c|"
	updatedPrefix = "u|"
)

var (
	ErrClosed        = errors.New("gridcache: store is closed")
	errInvalidRecord = errors.New("gridcache: invalid record encoding")
)

// Record is one callsign entry.
type Record struct {
	Call         string
	Grid         string
	Observations int
	FirstSeen    time.Time
	UpdatedAt    time.Time
}

// Store wraps the Pebble database holding call locators. Writes are
// serialized by a mutex; the read path goes straight to Pebble.
type Store struct {
	mu     sync.Mutex
	db     *pebble.DB
	cache  *pebble.Cache
	closed bool
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("gridcache: database path is empty")
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("gridcache: %s exists and is not a directory", path)
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("gridcache: stat path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("gridcache: ensure directory: %w", err)
	}

	cache := pebble.NewCache(16 << 20)
	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: 8 << 20,
	}
	filter := bloom.FilterPolicy(10)
	opts.Levels = make([]pebble.LevelOptions, 7)
	for i := range opts.Levels {
		opts.Levels[i] = pebble.LevelOptions{
			FilterPolicy: filter,
			FilterType:   pebble.TableFilter,
		}
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf("gridcache: open: %w", err)
	}
	return &Store{db: db, cache: cache}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	return err
}

// Observe records a sighting of call, optionally with a grid. An empty grid
// bumps the observation count without disturbing a stored locator; a
// non-empty grid replaces it.
func (s *Store) Observe(call, grid string, at time.Time) error {
	call = normalizeCall(call)
	if call == "" {
		return errors.New("gridcache: call is empty")
	}
	grid = normalizeGrid(grid)
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	existing, found, err := s.getLocked(call)
	if err != nil {
		return err
	}

	rec := Record{
		Call:         call,
		Grid:         grid,
		Observations: 1,
		FirstSeen:    at,
		UpdatedAt:    at,
	}
	if found {
		rec.Observations = existing.Observations + 1
		rec.FirstSeen = existing.FirstSeen
		if rec.Grid == "" {
			rec.Grid = existing.Grid
		}
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(callKey(call), encodeRecord(rec), nil); err != nil {
		return fmt.Errorf("gridcache: set %s: %w", call, err)
	}
	if found && !existing.UpdatedAt.Equal(rec.UpdatedAt) {
		if err := batch.Delete(updatedKey(existing.UpdatedAt.Unix(), call), nil); err != nil {
			return fmt.Errorf("gridcache: delete idx %s: %w", call, err)
		}
	}
	if err := batch.Set(updatedKey(rec.UpdatedAt.Unix(), call), nil, nil); err != nil {
		return fmt.Errorf("gridcache: set idx %s: %w", call, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("gridcache: commit %s: %w", call, err)
	}
	return nil
}

// Lookup returns the stored locator for call, or "" when unknown.
func (s *Store) Lookup(call string) (string, error) {
	rec, found, err := s.Get(call)
	if err != nil || !found {
		return "", err
	}
	return rec.Grid, nil
}

// Get fetches the full record for call.
func (s *Store) Get(call string) (Record, bool, error) {
	call = normalizeCall(call)
	if call == "" {
		return Record{}, false, errors.New("gridcache: call is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, false, ErrClosed
	}
	return s.getLocked(call)
}

func (s *Store) getLocked(call string) (Record, bool, error) {
	value, closer, err := s.db.Get(callKey(call))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("gridcache: get %s: %w", call, err)
	}
	defer closer.Close()
	rec, err := decodeRecord(call, value)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// PurgeOlderThan removes entries not observed since the cutoff, using the
// updated-at index. Returns the number of calls removed.
func (s *Store) PurgeOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	upper := updatedKey(cutoff.Unix()+1, "")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(updatedPrefix),
		UpperBound: upper,
	})
	if err != nil {
		return 0, fmt.Errorf("gridcache: purge iterator: %w", err)
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()

	removed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		_, call, ok := parseUpdatedKey(iter.Key())
		if !ok {
			continue
		}
		if err := batch.Delete(iter.Key(), nil); err != nil {
			return removed, fmt.Errorf("gridcache: purge idx %s: %w", call, err)
		}
		if err := batch.Delete(callKey(call), nil); err != nil {
			return removed, fmt.Errorf("gridcache: purge %s: %w", call, err)
		}
		removed++
	}
	if err := iter.Error(); err != nil {
		return removed, fmt.Errorf("gridcache: purge iterate: %w", err)
	}
	if removed > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return 0, fmt.Errorf("gridcache: purge commit: %w", err)
		}
	}
	return removed, nil
}

// Count scans the call keyspace.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	iter, err := s.db.NewIter(prefixIterOptions(callPrefix))
	if err != nil {
		return 0, fmt.Errorf("gridcache: count iterator: %w", err)
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("gridcache: count iterate: %w", err)
	}
	return n, nil
}

// Record layout: version byte, observation count, first-seen and updated-at
// seconds, grid length, grid bytes.
func encodeRecord(rec Record) []byte {
	grid := rec.Grid
	buf := make([]byte, recordHeaderSize+len(grid))
	buf[0] = recordVersion
	buf[1] = byte(len(grid))
	binary.BigEndian.PutUint16(buf[2:], clampUint16(rec.Observations))
	binary.BigEndian.PutUint64(buf[4:], uint64(rec.FirstSeen.UTC().Unix()))
	binary.BigEndian.PutUint64(buf[12:], uint64(rec.UpdatedAt.UTC().Unix()))
	copy(buf[recordHeaderSize:], grid)
	return buf
}

func decodeRecord(call string, raw []byte) (Record, error) {
	if len(raw) < recordHeaderSize || raw[0] != recordVersion {
		return Record{}, errInvalidRecord
	}
	gridLen := int(raw[1])
	if recordHeaderSize+gridLen > len(raw) {
		return Record{}, errInvalidRecord
	}
	return Record{
		Call:         call,
		Grid:         string(raw[recordHeaderSize : recordHeaderSize+gridLen]),
		Observations: int(binary.BigEndian.Uint16(raw[2:])),
		FirstSeen:    time.Unix(int64(binary.BigEndian.Uint64(raw[4:])), 0).UTC(),
		UpdatedAt:    time.Unix(int64(binary.BigEndian.Uint64(raw[12:])), 0).UTC(),
	}, nil
}

func clampUint16(v int) uint16 {
	if v <= 0 {
		return 0
	}
	if v > int(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(v)
}

func normalizeCall(call string) string {
	return strings.ToUpper(strings.TrimSpace(call))
}

func normalizeGrid(grid string) string {
	grid = strings.ToUpper(strings.TrimSpace(grid))
	if len(grid) > 6 {
		grid = grid[:6]
	}
	return grid
}

func callKey(call string) []byte {
	return append([]byte(callPrefix), call...)
}

func updatedKey(ts int64, call string) []byte {
	buf := make([]byte, len(updatedPrefix)+8+len(call))
	copy(buf, updatedPrefix)
	binary.BigEndian.PutUint64(buf[len(updatedPrefix):], uint64(ts))
	copy(buf[len(updatedPrefix)+8:], call)
	return buf
}

func parseUpdatedKey(key []byte) (int64, string, bool) {
	prefix := []byte(updatedPrefix)
	if len(key) <= len(prefix)+8 || !bytes.HasPrefix(key, prefix) {
		return 0, "", false
	}
	ts := int64(binary.BigEndian.Uint64(key[len(prefix):]))
	call := string(key[len(prefix)+8:])
	return ts, call, true
}

func prefixIterOptions(prefix string) *pebble.IterOptions {
	lower := []byte(prefix)
	upper := make([]byte, len(lower))
	copy(upper, lower)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			upper = upper[:i+1]
			return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
		}
	}
	return &pebble.IterOptions{LowerBound: lower}
}
