// Package feedback is the caller layer between the chat dialog and the backend.
// It tries the backend first and, when the backend stays unreachable, keeps the
// record in the local store for the reconcile scheduler to deliver later.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/retry"
)

// ErrAlreadyRegistered wraps a duplicate registration.
var ErrAlreadyRegistered = errors.New("user already registered")

// Backend is the part of the backend client the dialog needs.
type Backend interface {
	CheckUserExists(ctx context.Context, id string) (*backend.User, error)
	RegisterUser(ctx context.Context, u backend.User) (*backend.User, error)
	SaveMessage(ctx context.Context, m backend.Message) error
	UpdateUserActivity(ctx context.Context, id string)
	GetUserMessages(ctx context.Context, id string, limit int) ([]backend.Message, error)
}

// Store is the local buffer.
type Store interface {
	FindUser(id localstore.ID) (localstore.User, bool)
	SaveUser(ctx context.Context, u localstore.User) error
	ReadMessages() []localstore.Message
	SaveMessage(ctx context.Context, m localstore.Message) error
	UpdateUserActivity(ctx context.Context, id localstore.ID) (bool, error)
}

// Options configures a Service.
type Options struct {
	// Retry is applied to each backend call. Its Retryable predicate defaults
	// to backend.Retryable.
	Retry  retry.Policy
	Bus    *bus.Bus
	Logger *zap.Logger
	Now    func() time.Time
}

// Service registers users and submits tickets.
type Service struct {
	backend Backend
	store   Store
	policy  retry.Policy
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Service.
func New(b Backend, s Store, opts Options) *Service {
	svc := &Service{
		backend: b,
		store:   s,
		policy:  opts.Retry,
		bus:     opts.Bus,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if svc.policy.Retryable == nil {
		svc.policy.Retryable = backend.Retryable
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Receipt tells the caller where a record ended up.
type Receipt struct {
	// Buffered is true when the backend could not be reached and the record
	// waits in the local store.
	Buffered     bool
	TicketNumber string
	Priority     Priority
	User         *backend.User
}

// Register creates the user on the backend, or buffers it when the backend is
// unreachable. A duplicate is returned as ErrAlreadyRegistered.
func (s *Service) Register(ctx context.Context, u localstore.User) (Receipt, error) {
	if u.UserID == "" {
		u.UserID = u.ChatID
	}
	if u.Language == "" {
		u.Language = "uz"
	}
	log := s.logger.With(zap.String("chat_id", string(u.Key())))

	p := s.policy
	p.OnRetry = s.onRetry(log, "register_user")
	created, err := retry.DoValue(ctx, p, func(ctx context.Context) (*backend.User, error) {
		return s.backend.RegisterUser(ctx, backend.UserFromRecord(u))
	})

	switch {
	case err == nil:
		now := s.now()
		u.Synced, u.SyncedAt, u.SyncStatus = true, &now, localstore.Synced
		if err := s.store.SaveUser(ctx, u); err != nil {
			log.Warn("keep local copy of registered user", zap.Error(err))
		}
		log.Info("user registered")
		return Receipt{User: created}, nil

	case backend.IsKind(err, backend.KindDuplicate):
		return Receipt{}, fmt.Errorf("%w: %w", ErrAlreadyRegistered, err)

	case backend.Offline(err):
		u.Synced, u.SyncedAt, u.SyncStatus = false, nil, localstore.Pending
		if serr := s.store.SaveUser(ctx, u); serr != nil {
			return Receipt{}, errors.Join(err, fmt.Errorf("buffer user: %w", serr))
		}
		log.Warn("backend unreachable, user buffered", zap.Error(err))
		s.bus.Emit(bus.KindFeedbackBuffered, bus.Buffered{Kind: "user", RecordID: string(u.Key()), Reason: string(backend.KindOf(err))})
		user := backend.UserFromRecord(u)
		return Receipt{Buffered: true, User: &user}, nil

	default:
		return Receipt{}, err
	}
}

// Ticket is a suggestion or complaint typed by a user.
type Ticket struct {
	Owner    localstore.ID
	Type     localstore.TicketType
	Category string // complaint category, sent as substatus
	Text     string
	Language string
}

// Submit sends a ticket to the backend, or buffers it when the backend is
// unreachable. Invalid tickets are rejected before any network call.
func (s *Service) Submit(ctx context.Context, t Ticket) (Receipt, error) {
	now := s.now()
	msg := localstore.Message{
		MessageID:    localstore.NewMessageID(t.Owner, now),
		UserID:       t.Owner,
		ChatID:       t.Owner,
		Timestamp:    now.UTC(),
		Status:       localstore.Pending,
		TicketType:   t.Type,
		Text:         t.Text,
		Language:     t.Language,
		TicketNumber: TicketNumber(now),
		Priority:     string(PriorityOf(t.Category, t.Text)),
	}
	if msg.Language == "" {
		msg.Language = "uz"
	}
	if t.Type == localstore.Complaint {
		category := t.Category
		msg.Substatus = &category
	}
	receipt := Receipt{TicketNumber: msg.TicketNumber, Priority: Priority(msg.Priority)}

	wire := backend.MessageFromRecord(msg)
	if err := wire.Validate(); err != nil {
		return Receipt{}, err
	}
	log := s.logger.With(zap.String("message_id", msg.MessageID), zap.String("ticket", msg.TicketNumber))

	p := s.policy
	p.OnRetry = s.onRetry(log, "save_message")
	err := retry.Do(ctx, p, func(ctx context.Context) error {
		return s.backend.SaveMessage(ctx, wire)
	})

	switch {
	case err == nil:
		synced := s.now()
		msg.Status, msg.Synced, msg.SyncedAt = localstore.Synced, true, &synced
		if err := s.store.SaveMessage(ctx, msg); err != nil {
			log.Warn("keep local copy of ticket", zap.Error(err))
		}
		log.Info("ticket submitted", zap.String("type", string(t.Type)))
		return receipt, nil

	case backend.Offline(err):
		msg.Status = localstore.OfflinePending
		if serr := s.store.SaveMessage(ctx, msg); serr != nil {
			return Receipt{}, errors.Join(err, fmt.Errorf("buffer ticket: %w", serr))
		}
		log.Warn("backend unreachable, ticket buffered", zap.Error(err))
		s.bus.Emit(bus.KindFeedbackBuffered, bus.Buffered{Kind: "message", RecordID: msg.MessageID, Reason: string(backend.KindOf(err))})
		receipt.Buffered = true
		return receipt, nil

	default:
		return Receipt{}, err
	}
}

// Lookup finds a registered user. When the backend cannot be asked, the local
// copy is used.
func (s *Service) Lookup(ctx context.Context, id localstore.ID) (*backend.User, error) {
	log := s.logger.With(zap.String("chat_id", string(id)))
	p := s.policy
	p.OnRetry = s.onRetry(log, "check_user")
	u, err := retry.DoValue(ctx, p, func(ctx context.Context) (*backend.User, error) {
		return s.backend.CheckUserExists(ctx, string(id))
	})
	if err == nil {
		return u, nil
	}
	if !backend.Offline(err) {
		return nil, err
	}
	local, ok := s.store.FindUser(id)
	if !ok {
		return nil, err
	}
	log.Debug("user lookup served locally", zap.Error(err))
	wire := backend.UserFromRecord(local)
	return &wire, nil
}

// Touch records user activity locally and, best effort, on the backend.
func (s *Service) Touch(ctx context.Context, id localstore.ID) {
	if _, err := s.store.UpdateUserActivity(ctx, id); err != nil {
		s.logger.Debug("local activity update", zap.String("chat_id", string(id)), zap.Error(err))
	}
	s.backend.UpdateUserActivity(ctx, string(id))
}

// Tickets lists a user's tickets from the backend, or the local copies when
// the backend is unreachable.
func (s *Service) Tickets(ctx context.Context, id localstore.ID, limit int) ([]backend.Message, error) {
	msgs, err := s.backend.GetUserMessages(ctx, string(id), limit)
	if err == nil || !backend.Offline(err) {
		return msgs, err
	}
	var local []backend.Message
	all := s.store.ReadMessages()
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(local) < limit); i-- {
		if all[i].Owner() == id {
			m := backend.MessageFromRecord(all[i])
			m.Status = all[i].Status
			local = append(local, m)
		}
	}
	return local, nil
}

func (s *Service) onRetry(log *zap.Logger, op string) func(int, error) {
	return func(attempt int, err error) {
		log.Warn("backend call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
}

// TicketNumber is the human-facing ticket reference: USAT- and the last six
// digits of the millisecond clock.
func TicketNumber(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return "USAT-" + ms
}
