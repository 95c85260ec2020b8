// Package localstore persists users, messages and auth tokens as JSON files so
// that nothing a user submits is lost while the backend is unreachable.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/lock"
)

const (
	usersFile    = "users.json"
	messagesFile = "messages.json"
	tokensFile   = "tokens.json"
	lockFile     = ".lock"
	backupDir    = "backups"
)

// ErrInvalidRecords is returned when a collection fails validation and was not written.
var ErrInvalidRecords = errors.New("invalid records")

// Options configures a Store.
type Options struct {
	Dir             string
	BackupRetention int
	Lock            lock.Options
	Logger          *zap.Logger
	Now             func() time.Time
}

// Store owns the files in one data directory. Writers are serialized in-process
// by a mutex and across processes by a flock on .lock.
type Store struct {
	dir       string
	retention int
	lockOpts  lock.Options
	logger    *zap.Logger
	now       func() time.Time

	mu sync.Mutex
}

// Open creates the data and backup directories and seeds empty files.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("localstore: data dir is required")
	}
	if err := os.MkdirAll(filepath.Join(opts.Dir, backupDir), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{
		dir:       opts.Dir,
		retention: opts.BackupRetention,
		lockOpts:  opts.Lock,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.retention < 1 {
		s.retention = 5
	}
	if s.lockOpts.Attempts < 1 {
		s.lockOpts = lock.DefaultOptions
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	seeds := map[string]string{
		usersFile:    "[]",
		messagesFile: "[]",
		tokensFile:   `{"access": null, "refresh": null}`,
	}
	for name, content := range seeds {
		path := s.path(name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				return nil, fmt.Errorf("seed %s: %w", name, err)
			}
		}
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// readJSON decodes a file into v. Missing or corrupt files leave v untouched.
func (s *Store) readJSON(name string, v any) bool {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read store file", zap.String("file", name), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("decode store file", zap.String("file", name), zap.Error(err))
		return false
	}
	return true
}

// update runs fn between lock acquisition and release, so a read-modify-write
// never races with another writer.
func (s *Store) update(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := lock.AcquireFile(ctx, s.path(lockFile), s.lockOpts)
	if err != nil {
		s.logger.Error("acquire store lock", zap.Error(err))
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			s.logger.Warn("release store lock", zap.Error(err))
		}
	}()
	return fn()
}

// writeJSON backs up the current file and atomically replaces it. Callers hold the lock.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.backup(name); err != nil {
		// A failed backup does not block the write.
		s.logger.Warn("backup store file", zap.String("file", name), zap.Error(err))
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// backup copies the current file into backups/<name>.<unix-ms>.bak and keeps
// the newest s.retention copies of that file.
func (s *Store) backup(name string) error {
	src, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dir := filepath.Join(s.dir, backupDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	stamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	dst, err := os.OpenFile(filepath.Join(dir, name+"."+stamp+".bak"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return s.pruneBackups(name)
}

func (s *Store) pruneBackups(name string) error {
	backups, err := s.Backups(name)
	if err != nil {
		return err
	}
	if len(backups) <= s.retention {
		return nil
	}
	for _, old := range backups[s.retention:] {
		if err := os.Remove(filepath.Join(s.dir, backupDir, old)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Backups lists backup file names for a data file, newest first.
func (s *Store) Backups(name string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, backupDir))
	if err != nil {
		return nil, err
	}
	type backup struct {
		name  string
		stamp int64
	}
	var list []backup
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), name+".")
		if !ok || e.IsDir() {
			continue
		}
		stamp, err := strconv.ParseInt(strings.TrimSuffix(rest, ".bak"), 10, 64)
		if err != nil {
			continue
		}
		list = append(list, backup{name: e.Name(), stamp: stamp})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].stamp > list[j].stamp })
	names := make([]string, len(list))
	for i, b := range list {
		names[i] = b.name
	}
	return names, nil
}
