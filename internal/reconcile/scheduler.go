// Package reconcile replays locally buffered users and tickets to the backend
// on a timer until each is accepted or has used up its attempts.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/journal"
	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/status"
)

// ErrPassInProgress is returned by RunOnce while another pass is running.
var ErrPassInProgress = errors.New("reconcile: pass already in progress")

const lastSyncKey = "last_sync"

// Backend is the subset of the backend client a pass replays through.
type Backend interface {
	HealthCheck(ctx context.Context) bool
	RegisterUser(ctx context.Context, u backend.User) (*backend.User, error)
	SaveMessage(ctx context.Context, m backend.Message) error
}

// Store is the local buffer.
type Store interface {
	ReadUsers() []localstore.User
	ReadMessages() []localstore.Message
	UpdateUsers(ctx context.Context, fn func([]localstore.User) ([]localstore.User, bool)) error
	UpdateMessages(ctx context.Context, fn func([]localstore.Message) ([]localstore.Message, bool)) error
}

// Journal records pass history.
type Journal interface {
	RecordPass(p journal.Pass, events []journal.Event) (int64, error)
	SetCheckpoint(key, value string) error
	Checkpoint(key string) (string, error)
}

// Options configures a Scheduler. Journal, Status and Bus are optional.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Journal     Journal
	Status      *status.Machine
	Bus         *bus.Bus
	Logger      *zap.Logger
	Now         func() time.Time
}

// Scheduler runs reconciliation passes. At most one pass runs at a time.
type Scheduler struct {
	backend     Backend
	store       Store
	journal     Journal
	status      *status.Machine
	bus         *bus.Bus
	logger      *zap.Logger
	now         func() time.Time
	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastSync *time.Time

	passMu sync.Mutex
}

// New creates a Scheduler. A zero interval is 5 minutes and zero MaxAttempts is 5.
func New(b Backend, s Store, opts Options) *Scheduler {
	sc := &Scheduler{
		backend:     b,
		store:       s,
		journal:     opts.Journal,
		status:      opts.Status,
		bus:         opts.Bus,
		logger:      opts.Logger,
		now:         opts.Now,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
	}
	if sc.interval <= 0 {
		sc.interval = 5 * time.Minute
	}
	if sc.maxAttempts < 1 {
		sc.maxAttempts = 5
	}
	if sc.logger == nil {
		sc.logger = zap.NewNop()
	}
	if sc.now == nil {
		sc.now = time.Now
	}
	if sc.journal != nil {
		if v, err := sc.journal.Checkpoint(lastSyncKey); err == nil && v != "" {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				sc.lastSync = &t
			}
		}
	}
	return sc
}

// Start runs one pass immediately and then one per interval until Stop.
// Calling Start on a running scheduler only logs a warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("reconcile scheduler already running")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	s.logger.Info("reconcile scheduler started", zap.Duration("interval", s.interval))
	go s.loop(ctx, s.done)
}

// Stop cancels the timer and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("reconcile scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// A started pass finishes even if Stop is called meanwhile.
	if _, err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
		if errors.Is(err, ErrPassInProgress) {
			s.logger.Debug("skipping tick, pass in progress")
			return
		}
		s.logger.Error("reconcile pass failed", zap.Error(err))
	}
}

// Status is the scheduler's observable state.
type Status struct {
	Running  bool
	LastSync *time.Time
}

// GetStatus reports whether the timer is running and when the last pass completed.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running}
	if s.lastSync != nil {
		t := *s.lastSync
		st.LastSync = &t
	}
	return st
}

// RunOnce performs one pass now. It returns ErrPassInProgress if a pass is already running.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	if !s.passMu.TryLock() {
		return Result{}, ErrPassInProgress
	}
	defer s.passMu.Unlock()
	return s.runPass(ctx)
}
