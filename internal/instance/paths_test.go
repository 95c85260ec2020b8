package instance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".taklif", "instances", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestSocketPath(t *testing.T) {
	got := SocketPath("test")
	if !strings.HasSuffix(got, filepath.Join("instances", "test", "taklifd.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix instances/test/taklifd.sock", got)
	}
}

func TestDataDir(t *testing.T) {
	if got := DataDir("test", "/srv/taklif"); got != "/srv/taklif" {
		t.Errorf("DataDir with override = %q, want /srv/taklif", got)
	}
	got := DataDir("test", "")
	if !strings.HasSuffix(got, filepath.Join("instances", "test", "data")) {
		t.Errorf("DataDir(test) = %q, want suffix instances/test/data", got)
	}
}

func TestJournalPath(t *testing.T) {
	got := JournalPath("test")
	if !strings.HasSuffix(got, filepath.Join("instances", "test", "journal.db")) {
		t.Errorf("JournalPath(test) = %q, want suffix instances/test/journal.db", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}

	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("log dir is not a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}
