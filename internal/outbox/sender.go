// Package outbox delivers bot replies through the chat link. Replies are
// queued in the journal first, so a reply written while the link is down is
// sent once it comes back.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/journal"
	"github.com/usat-ai-lab/taklif/internal/metrics"
)

// ErrEmptyReply is returned for a reply with no text.
var ErrEmptyReply = errors.New("outbox: empty reply")

// Link is the chat transport replies go out on.
type Link interface {
	SendText(ctx context.Context, chatID string, text string) (serverMsgID string, err error)
	IsConnected() bool
}

// Queue is the durable side of the outbox.
type Queue interface {
	QueueReply(clientMsgID, chatID, body string, now time.Time) error
	QueuedReplies(limit int) ([]journal.Reply, error)
	CountQueuedReplies() (int, error)
	MarkReplySent(clientMsgID, serverMsgID string, now time.Time) error
	MarkReplyAttemptFailed(clientMsgID, errMsg string, terminal bool, now time.Time) error
}

// Options tunes the sender.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
	Bus         *bus.Bus
	Logger      *zap.Logger
	Now         func() time.Time
}

// Sender drains the outbox through the chat link.
type Sender struct {
	queue  Queue
	link   Link
	opts   Options
	wake   chan struct{}
	mu     sync.Mutex // serializes drains
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a sender. Zero options get defaults.
func NewSender(q Queue, link Link, opts Options) *Sender {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sender{
		queue: q,
		link:  link,
		opts:  opts,
		wake:  make(chan struct{}, 1),
	}
}

// SendText queues a reply and wakes the drain loop. The returned ID is the
// outbox's client ID; the server ID is recorded once the reply is delivered.
func (s *Sender) SendText(_ context.Context, chatID string, text string) (string, error) {
	if text == "" {
		return "", ErrEmptyReply
	}
	id := uuid.NewString()
	if err := s.queue.QueueReply(id, chatID, text, s.opts.Now()); err != nil {
		return "", err
	}
	s.Wake()
	return id, nil
}

// Wake requests a drain without waiting for the next tick.
func (s *Sender) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins draining in the background. chat.connected events trigger an
// immediate drain.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	var connected <-chan bus.Event
	var unsub func()
	if s.opts.Bus != nil {
		connected, unsub = s.opts.Bus.Subscribe(bus.KindChatConnected, 4)
	}
	go func() {
		defer close(s.done)
		if unsub != nil {
			defer unsub()
		}
		s.loop(ctx, connected)
	}()
	s.Wake()
}

// Stop stops the loop and waits for an in-flight drain.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context, connected <-chan bus.Event) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.wake:
		case <-connected:
		case <-ctx.Done():
			return
		}
		s.Drain(ctx)
	}
}

// Drain sends queued replies oldest first. It stops at the first failure so
// a chat's replies keep their order, and does nothing while the link is down.
// Returns how many replies were delivered.
func (s *Sender) Drain(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.updateQueued()

	log := s.opts.Logger
	if !s.link.IsConnected() {
		return 0
	}
	pending, err := s.queue.QueuedReplies(s.opts.BatchSize)
	if err != nil {
		log.Error("failed to read outbox", zap.Error(err))
		return 0
	}

	sent := 0
	for _, r := range pending {
		if ctx.Err() != nil {
			return sent
		}
		serverID, err := s.link.SendText(ctx, r.ChatID, r.Body)
		if err != nil {
			attempts := r.Attempts + 1
			terminal := attempts >= s.opts.MaxAttempts
			if markErr := s.queue.MarkReplyAttemptFailed(r.ClientMsgID, err.Error(), terminal, s.opts.Now()); markErr != nil {
				log.Error("failed to record reply failure", zap.String("client_msg_id", r.ClientMsgID), zap.Error(markErr))
			}
			evt := bus.OutboxReply{ClientMsgID: r.ClientMsgID, ChatID: r.ChatID, Attempts: attempts, Error: err.Error()}
			if terminal {
				metrics.OutboxReplies.WithLabelValues("failed").Inc()
				log.Error("reply dropped after max attempts", zap.String("client_msg_id", r.ClientMsgID), zap.Int("attempts", attempts), zap.Error(err))
				s.opts.Bus.Emit(bus.KindOutboxFailed, evt)
				// The dropped reply no longer blocks the rest.
				continue
			}
			metrics.OutboxReplies.WithLabelValues("retry").Inc()
			log.Warn("failed to send reply", zap.String("client_msg_id", r.ClientMsgID), zap.Int("attempts", attempts), zap.Error(err))
			return sent
		}

		if err := s.queue.MarkReplySent(r.ClientMsgID, serverID, s.opts.Now()); err != nil {
			log.Error("failed to mark reply sent", zap.String("client_msg_id", r.ClientMsgID), zap.Error(err))
		}
		metrics.OutboxReplies.WithLabelValues("sent").Inc()
		sent++
		log.Debug("reply sent", zap.String("client_msg_id", r.ClientMsgID), zap.String("server_msg_id", serverID))
		s.opts.Bus.Emit(bus.KindOutboxSent, bus.OutboxReply{ClientMsgID: r.ClientMsgID, ChatID: r.ChatID, Attempts: r.Attempts + 1})
	}
	return sent
}

// Queued returns how many replies wait for delivery.
func (s *Sender) Queued() int {
	n, err := s.queue.CountQueuedReplies()
	if err != nil {
		return 0
	}
	return n
}

func (s *Sender) updateQueued() {
	if n, err := s.queue.CountQueuedReplies(); err == nil {
		metrics.OutboxQueued.Set(float64(n))
	}
}
