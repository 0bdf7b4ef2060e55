package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogFanoutSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	fanout := newLogFanout(&ioLineSink{w: &buf, withTimestamp: false}, nil)

	if _, err := fanout.Write([]byte("first line\nsecond ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := fanout.Write([]byte("half\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := buf.String()
	if got != "first line\nsecond half\n" {
		t.Fatalf("unexpected fanout output %q", got)
	}
}

func TestLogFanoutFlushesPartialLineOnClose(t *testing.T) {
	var buf bytes.Buffer
	fanout := newLogFanout(&ioLineSink{w: &buf, withTimestamp: false}, nil)

	if _, err := fanout.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fanout.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(buf.String(), "no newline") {
		t.Fatalf("partial line lost on close: %q", buf.String())
	}
}

func TestDailyFileSinkWritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 14)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	sink.WriteLine("hello from day one", day1)
	sink.WriteLine("hello from day two", day2)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, want := range []struct {
		day  time.Time
		line string
	}{
		{day1, "hello from day one"},
		{day2, "hello from day two"},
	} {
		data, err := os.ReadFile(filepath.Join(dir, logFileNameForDate(want.day)))
		if err != nil {
			t.Fatalf("reading day file: %v", err)
		}
		if !strings.Contains(string(data), want.line) {
			t.Fatalf("day file %s missing %q: %q", logFileNameForDate(want.day), want.line, data)
		}
	}
}

func TestParseLogFileDateRoundTrip(t *testing.T) {
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	name := logFileNameForDate(day)
	parsed, ok := parseLogFileDate(name)
	if !ok {
		t.Fatalf("parseLogFileDate rejected %q", name)
	}
	if !parsed.Equal(day) {
		t.Fatalf("round trip mismatch: %v != %v", parsed, day)
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatal("parseLogFileDate accepted a non-log name")
	}
}

func TestCleanupOldLogsRemovesExpired(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	oldName := logFileNameForDate(now.AddDate(0, 0, -30))
	newName := logFileNameForDate(now)
	for _, name := range []string{oldName, newName, "keepme.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}

	if err := cleanupOldLogs(dir, now, 14); err != nil {
		t.Fatalf("cleanupOldLogs: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, oldName)); !os.IsNotExist(err) {
		t.Fatalf("expired log %s survived cleanup", oldName)
	}
	for _, name := range []string{newName, "keepme.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("cleanup removed %s: %v", name, err)
		}
	}
}

func TestUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 8, 26, 2, 30, 0, 0, loc) // 21:30 Aug 25 UTC
	got := utcMidnight(local)
	want := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("utcMidnight = %v, want %v", got, want)
	}
}
