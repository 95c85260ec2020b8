package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogPrefix names the daily JSON log files.
	LogPrefix = "taklifd-"
	// ErrorLogPrefix names the daily error-only log files.
	ErrorLogPrefix = "taklifd-errors-"
)

// Options controls where and how the daemon logs.
type Options struct {
	Dir      string
	Instance string
	Level    string
	Now      func() time.Time
}

// New creates a zap logger that writes JSON to a dated file in opts.Dir, errors
// additionally to a dated error file, and everything to stderr. Instance name and
// PID are included as initial fields. The returned close func flushes and closes files.
func New(opts Options) (*zap.Logger, func() error, error) {
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, nil, err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	day := now().Format("2006-01-02")
	file, err := openAppend(filepath.Join(opts.Dir, LogPrefix+day+".log"))
	if err != nil {
		return nil, nil, err
	}
	errFile, err := openAppend(filepath.Join(opts.Dir, ErrorLogPrefix+day+".log"))
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	fileCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(file), level)
	errCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(errFile), zapcore.ErrorLevel)
	stderrCore := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level)

	core := zapcore.NewTee(fileCore, errCore, stderrCore)

	logger := zap.New(core,
		zap.Fields(
			zap.String("instance", opts.Instance),
			zap.Int("pid", os.Getpid()),
		),
	)

	closeFn := func() error {
		_ = logger.Sync()
		err1 := file.Close()
		err2 := errFile.Close()
		if err1 != nil {
			return err1
		}
		return err2
	}
	return logger, closeFn, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Prune deletes dated log files in dir whose name starts with prefix and whose date is
// older than maxAge relative to now. Returns the number of files removed.
func Prune(dir, prefix string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		// Under LogPrefix the error files fail to parse here and are skipped.
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")
		day, err := time.ParseInLocation("2006-01-02", stamp, now.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
