package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/metrics"
)

// State is where a chat is in the dialog.
type State string

const (
	StateIdle      State = "idle"
	StateLanguage  State = "waiting_language"
	StateName      State = "waiting_name"
	StatePhone     State = "waiting_phone"
	StateCourse    State = "waiting_course"
	StateDirection State = "waiting_direction"
	StateCategory  State = "waiting_category"
	StateText      State = "waiting_text"
)

// Session is the dialog state of one chat.
type Session struct {
	ChatID     string
	State      State
	Lang       Lang
	Registered bool

	FullName  string
	Phone     string
	Course    string
	Direction string

	TicketType localstore.TicketType
	Category   string

	LastActivity time.Time
	// ErrorAt is set while the chat is stuck on a failed step.
	ErrorAt *time.Time
}

// SessionOptions configures Sessions. Zero durations use 30m idle, 1h error
// and a 10m sweep.
type SessionOptions struct {
	IdleTimeout   time.Duration
	ErrorTimeout  time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Sessions keeps dialog state in memory and forgets chats that went quiet.
type Sessions struct {
	mu   sync.Mutex
	m    map[string]*Session
	opts SessionOptions

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessions creates an empty session table.
func NewSessions(opts SessionOptions) *Sessions {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.ErrorTimeout <= 0 {
		opts.ErrorTimeout = time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sessions{m: make(map[string]*Session), opts: opts}
}

// Get returns a copy of the chat's session.
func (s *Sessions) Get(chatID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Put stores sess and stamps its activity time.
func (s *Sessions) Put(sess Session) {
	sess.LastActivity = s.opts.Now()
	s.mu.Lock()
	s.m[sess.ChatID] = &sess
	n := len(s.m)
	s.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// Delete forgets a chat.
func (s *Sessions) Delete(chatID string) {
	s.mu.Lock()
	delete(s.m, chatID)
	n := len(s.m)
	s.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Sweep drops sessions idle longer than the idle timeout, or stuck in an error
// longer than the error timeout. Returns how many were dropped.
func (s *Sessions) Sweep() int {
	now := s.opts.Now()
	s.mu.Lock()
	removed := 0
	for id, sess := range s.m {
		idle := now.Sub(sess.LastActivity) > s.opts.IdleTimeout
		stuck := sess.ErrorAt != nil && now.Sub(*sess.ErrorAt) > s.opts.ErrorTimeout
		if idle || stuck {
			delete(s.m, id)
			removed++
		}
	}
	n := len(s.m)
	s.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	if removed > 0 {
		s.opts.Logger.Info("dropped inactive sessions", zap.Int("removed", removed), zap.Int("active", n))
	}
	return removed
}

// Start sweeps on every interval until Stop.
func (s *Sessions) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop.
func (s *Sessions) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}
