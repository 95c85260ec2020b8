package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/journal"
	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/metrics"
	"github.com/usat-ai-lab/taklif/internal/status"
)

// Result summarizes one pass.
type Result struct {
	StartedAt        time.Time
	Skipped          bool
	UsersSynced      int
	UsersFailed      int
	UsersTerminal    int
	MessagesSynced   int
	MessagesFailed   int
	MessagesTerminal int
}

// outcome is the replay result for one record, applied under the store lock.
type outcome struct {
	synced   bool
	attempts int
	terminal bool
	at       time.Time
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	return backend.IsKind(err, backend.KindValidation) || backend.IsKind(err, backend.KindPayloadTooLarge)
}

func (s *Scheduler) failure(prevAttempts int, err error, at time.Time) outcome {
	attempts := prevAttempts + 1
	return outcome{
		attempts: attempts,
		terminal: attempts >= s.maxAttempts || permanent(err),
		at:       at,
	}
}

func (s *Scheduler) runPass(ctx context.Context) (Result, error) {
	res := Result{StartedAt: s.now()}
	log := s.logger.With(zap.Time("pass_started", res.StartedAt))

	if !s.backend.HealthCheck(ctx) {
		log.Warn("backend unavailable, skipping reconcile pass")
		res.Skipped = true
		s.setReachable(false)
		metrics.SyncPasses.WithLabelValues(string(journal.SkippedOffline)).Inc()
		s.bus.Emit(bus.KindSyncPassSkipped, s.passPayload(res))
		s.record(res, journal.SkippedOffline, nil, nil)
		return res, nil
	}

	s.setReachable(true)
	s.transition(status.Syncing)
	defer s.transition(status.Online)
	s.bus.Emit(bus.KindSyncPassStarted, s.passPayload(res))
	log.Info("starting reconcile pass")

	var events []journal.Event
	userErr := s.syncUsers(ctx, &res, &events)
	msgErr := s.syncMessages(ctx, &res, &events)
	if err := errors.Join(userErr, msgErr); err != nil {
		metrics.SyncPasses.WithLabelValues(string(journal.Failed)).Inc()
		s.record(res, journal.Failed, events, err)
		return res, err
	}

	finished := s.now()
	s.mu.Lock()
	s.lastSync = &finished
	s.mu.Unlock()

	metrics.SyncPasses.WithLabelValues(string(journal.Completed)).Inc()
	metrics.LastSyncTimestamp.Set(float64(finished.Unix()))
	s.bus.Emit(bus.KindSyncPassCompleted, s.passPayload(res))
	s.record(res, journal.Completed, events, nil)
	if s.journal != nil {
		if err := s.journal.SetCheckpoint(lastSyncKey, finished.UTC().Format(time.RFC3339Nano)); err != nil {
			log.Warn("store last sync checkpoint", zap.Error(err))
		}
	}
	log.Info("reconcile pass completed",
		zap.Int("users_synced", res.UsersSynced),
		zap.Int("users_failed", res.UsersFailed),
		zap.Int("messages_synced", res.MessagesSynced),
		zap.Int("messages_failed", res.MessagesFailed),
		zap.Int("messages_terminal", res.MessagesTerminal),
	)
	return res, nil
}

func (s *Scheduler) syncUsers(ctx context.Context, res *Result, events *[]journal.Event) error {
	var pending []localstore.User
	for _, u := range s.store.ReadUsers() {
		if u.NeedsSync() {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		metrics.PendingRecords.WithLabelValues("user").Set(0)
		return nil
	}
	s.logger.Info("syncing unsynced users", zap.Int("count", len(pending)))

	outcomes := make(map[localstore.ID]outcome, len(pending))
	for _, u := range pending {
		_, err := s.backend.RegisterUser(ctx, backend.UserFromRecord(u))
		now := s.now()
		key := string(u.Key())
		switch {
		case err == nil, backend.IsKind(err, backend.KindDuplicate):
			outcomes[u.Key()] = outcome{synced: true, at: now}
			res.UsersSynced++
			result := "synced"
			if err != nil {
				result = "duplicate"
				s.logger.Info("user already registered, marking synced", zap.String("chat_id", key))
			}
			s.recordEvent(events, "user", key, result, u.SyncAttempts, nil, now)
		default:
			o := s.failure(u.SyncAttempts, err, now)
			outcomes[u.Key()] = o
			res.UsersFailed++
			result := "failed"
			if o.terminal {
				res.UsersTerminal++
				result = "terminal"
				s.logger.Warn("user sync abandoned", zap.String("chat_id", key), zap.Int("attempts", o.attempts), zap.Error(err))
			} else {
				s.logger.Error("user sync failed", zap.String("chat_id", key), zap.Int("attempts", o.attempts), zap.Error(err))
			}
			s.recordEvent(events, "user", key, result, o.attempts, err, now)
		}
	}

	remaining := 0
	err := s.store.UpdateUsers(ctx, func(users []localstore.User) ([]localstore.User, bool) {
		changed := false
		for i := range users {
			u := &users[i]
			o, ok := outcomes[u.Key()]
			if !ok || u.Synced || u.SyncStatus.Terminal() {
				continue
			}
			changed = true
			if o.synced {
				u.Synced = true
				u.SyncedAt = &o.at
				u.SyncStatus = localstore.Synced
				continue
			}
			u.SyncAttempts = o.attempts
			if o.terminal {
				u.SyncStatus = localstore.SyncFailed
			} else {
				u.SyncStatus = localstore.Pending
				remaining++
			}
		}
		return users, changed
	})
	metrics.PendingRecords.WithLabelValues("user").Set(float64(remaining))
	return err
}

func (s *Scheduler) syncMessages(ctx context.Context, res *Result, events *[]journal.Event) error {
	var pending []localstore.Message
	for _, m := range s.store.ReadMessages() {
		if m.NeedsSync() {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		metrics.PendingRecords.WithLabelValues("message").Set(0)
		return nil
	}
	s.logger.Info("syncing pending messages", zap.Int("count", len(pending)))

	outcomes := make(map[string]outcome, len(pending))
	for _, m := range pending {
		err := s.backend.SaveMessage(ctx, backend.MessageFromRecord(m))
		now := s.now()
		if err == nil {
			outcomes[m.MessageID] = outcome{synced: true, at: now}
			res.MessagesSynced++
			s.recordEvent(events, "message", m.MessageID, "synced", m.SyncAttempts, nil, now)
			continue
		}

		o := s.failure(m.SyncAttempts, err, now)
		outcomes[m.MessageID] = o
		res.MessagesFailed++
		result := "failed"
		if o.terminal {
			res.MessagesTerminal++
			result = "terminal"
			s.logger.Warn("message sync abandoned", zap.String("message_id", m.MessageID), zap.Int("attempts", o.attempts), zap.Error(err))
		} else {
			s.logger.Error("message sync failed", zap.String("message_id", m.MessageID), zap.Int("attempts", o.attempts), zap.Error(err))
		}
		s.recordEvent(events, "message", m.MessageID, result, o.attempts, err, now)
	}

	remaining := 0
	err := s.store.UpdateMessages(ctx, func(msgs []localstore.Message) ([]localstore.Message, bool) {
		changed := false
		for i := range msgs {
			m := &msgs[i]
			o, ok := outcomes[m.MessageID]
			if !ok || !m.NeedsSync() {
				continue
			}
			if o.synced && localstore.CanTransition(m.Status, localstore.Synced) {
				m.Status = localstore.Synced
				m.Synced = true
				m.SyncedAt = &o.at
				changed = true
				continue
			}
			if o.synced {
				// Status already terminal; only the flag was stale.
				m.Synced = true
				m.SyncedAt = &o.at
				changed = true
				continue
			}
			m.SyncAttempts = o.attempts
			changed = true
			switch {
			case o.terminal && localstore.CanTransition(m.Status, localstore.SyncFailed):
				m.Status = localstore.SyncFailed
			case o.terminal:
				// Status never moves back from synced; only the flag is unset.
				s.logger.Warn("message marked synced but replay failed", zap.String("message_id", m.MessageID))
			default:
				remaining++
			}
		}
		return msgs, changed
	})
	metrics.PendingRecords.WithLabelValues("message").Set(float64(remaining))
	return err
}

func (s *Scheduler) recordEvent(events *[]journal.Event, kind, id, result string, attempts int, err error, at time.Time) {
	e := journal.Event{Kind: kind, RecordID: id, Result: result, Attempts: attempts, At: at}
	if err != nil {
		e.Error = err.Error()
	}
	*events = append(*events, e)
	metrics.SyncRecords.WithLabelValues(kind, result).Inc()
	switch result {
	case "synced", "duplicate":
		s.bus.Emit(bus.KindSyncRecordSynced, bus.SyncRecord{Kind: kind, RecordID: id, Attempts: attempts})
	case "terminal":
		s.bus.Emit(bus.KindSyncRecordFailed, bus.SyncRecord{Kind: kind, RecordID: id, Attempts: attempts})
	}
}

func (s *Scheduler) record(res Result, outcome journal.Outcome, events []journal.Event, passErr error) {
	if s.journal == nil {
		return
	}
	p := journal.Pass{
		StartedAt:        res.StartedAt,
		FinishedAt:       s.now(),
		Outcome:          outcome,
		UsersSynced:      res.UsersSynced,
		UsersFailed:      res.UsersFailed,
		MessagesSynced:   res.MessagesSynced,
		MessagesFailed:   res.MessagesFailed,
		MessagesTerminal: res.MessagesTerminal,
	}
	if passErr != nil {
		p.Error = passErr.Error()
	}
	if _, err := s.journal.RecordPass(p, events); err != nil {
		s.logger.Warn("record reconcile pass", zap.Error(err))
	}
}

func (s *Scheduler) passPayload(res Result) bus.SyncPass {
	return bus.SyncPass{
		StartedAt:        res.StartedAt,
		UsersSynced:      res.UsersSynced,
		UsersFailed:      res.UsersFailed,
		MessagesSynced:   res.MessagesSynced,
		MessagesFailed:   res.MessagesFailed,
		MessagesTerminal: res.MessagesTerminal,
	}
}

func (s *Scheduler) setReachable(v bool) {
	if s.status == nil {
		return
	}
	if err := s.status.SetReachable(v); err != nil {
		s.logger.Debug("status update", zap.Error(err))
	}
}

func (s *Scheduler) transition(to status.State) {
	if s.status == nil {
		return
	}
	if err := s.status.Transition(to); err != nil {
		s.logger.Debug("status update", zap.Error(err))
	}
}
