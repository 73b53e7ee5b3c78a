package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// readEntries parses the JSON lines written to {dir}/debug.log.
func readEntries(t *testing.T, dir string) []map[string]any {
	t.Helper()

	f, err := os.Open(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Info("shard created", "shard_id", "proj-feat-x", "port_start", 3000)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries := readEntries(t, dir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["msg"] != "shard created" {
		t.Errorf("msg = %v", entries[0]["msg"])
	}
	if entries[0]["shard_id"] != "proj-feat-x" {
		t.Errorf("shard_id = %v", entries[0]["shard_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Close()

	entries := readEntries(t, dir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at WARN, got %d", len(entries))
	}
	if entries[0]["msg"] != "warn message" || entries[1]["msg"] != "error message" {
		t.Errorf("unexpected messages: %v, %v", entries[0]["msg"], entries[1]["msg"])
	}
}

func TestChildLoggerAttributes(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	child := logger.WithShard("proj-main").WithOperation("destroy")
	child.Info("removing worktree")

	// Parent must not carry the child's attributes.
	logger.Info("plain entry")
	logger.Close()

	entries := readEntries(t, dir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["shard_id"] != "proj-main" || entries[0]["operation"] != "destroy" {
		t.Errorf("child entry missing attributes: %v", entries[0])
	}
	if _, ok := entries[1]["shard_id"]; ok {
		t.Error("parent logger leaked child attribute")
	}
}

func TestWithKeyValues(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.With("pid", 4242, "terminal", "iterm").Info("spawned")
	logger.Close()

	entries := readEntries(t, dir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["pid"] != float64(4242) {
		t.Errorf("pid = %v", entries[0]["pid"])
	}
	if entries[0]["terminal"] != "iterm" {
		t.Errorf("terminal = %v", entries[0]["terminal"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	logger.WithShard("x").Error("also discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on NopLogger failed: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"ERROR", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 0, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	// MaxSizeMB of 0 never rotates regardless of volume.
	for i := 0; i < 100; i++ {
		if _, err := rw.Write([]byte(strings.Repeat("x", 1024) + "\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	rw.Close()
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("rotation occurred with MaxSizeMB=0")
	}
}

func TestRotationKeepsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	chunk := []byte(strings.Repeat("y", 512*1024))
	for i := 0; i < 8; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	rw.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("current log file missing: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("backup .1 missing: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backup .3 exists beyond MaxBackups")
	}
}
