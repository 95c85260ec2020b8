package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewWritesDatedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	fixed := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	logger, closeFn, err := New(Options{Dir: dir, Instance: "test", Level: "debug", Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello")
	logger.Error("boom")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "taklifd-2026-03-09.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"instance":"test"`) {
		t.Errorf("log missing instance field: %s", data)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log missing info line: %s", data)
	}

	errData, err := os.ReadFile(filepath.Join(dir, "taklifd-errors-2026-03-09.log"))
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if strings.Contains(string(errData), "hello") {
		t.Error("error log contains info line")
	}
	if !strings.Contains(string(errData), "boom") {
		t.Error("error log missing error line")
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	files := []string{
		"taklifd-2026-02-01.log",        // old
		"taklifd-2026-03-20.log",        // fresh
		"taklifd-errors-2026-02-01.log", // other prefix
		"notes.txt",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := Prune(dir, LogPrefix, 30*24*time.Hour, now)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "taklifd-2026-02-01.log")); !os.IsNotExist(err) {
		t.Error("old log not removed")
	}
	for _, keep := range files[1:] {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Errorf("%s should be kept: %v", keep, err)
		}
	}

	removed, err = Prune(dir, ErrorLogPrefix, 14*24*time.Hour, now)
	if err != nil {
		t.Fatalf("Prune(errors) error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed errors = %d, want 1", removed)
	}
}
