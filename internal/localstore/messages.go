package localstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReadMessages returns all stored messages. It never fails.
func (s *Store) ReadMessages() []Message {
	var msgs []Message
	if !s.readJSON(messagesFile, &msgs) {
		return []Message{}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs
}

// PendingMessages returns messages still waiting to be synced.
func (s *Store) PendingMessages() []Message {
	var pending []Message
	for _, m := range s.ReadMessages() {
		if m.NeedsSync() {
			pending = append(pending, m)
		}
	}
	return pending
}

// SaveMessage appends m.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	return s.UpdateMessages(ctx, func(msgs []Message) ([]Message, bool) {
		return append(msgs, m), true
	})
}

// UpdateMessages applies fn to the stored messages under the write lock.
func (s *Store) UpdateMessages(ctx context.Context, fn func([]Message) ([]Message, bool)) error {
	return s.update(ctx, func() error {
		msgs, changed := fn(s.ReadMessages())
		if !changed {
			return nil
		}
		if err := ValidateMessages(msgs); err != nil {
			s.logger.Error("refusing to write messages", zap.Error(err))
			return err
		}
		return s.writeJSON(messagesFile, msgs)
	})
}

// ValidateMessages checks every message carries an id and an owner.
func ValidateMessages(msgs []Message) error {
	for i, m := range msgs {
		if m.MessageID == "" || m.Owner() == "" {
			return fmt.Errorf("%w: message %d needs messageId and userId", ErrInvalidRecords, i)
		}
	}
	return nil
}
