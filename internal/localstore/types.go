package localstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ID is a chat or user identifier. JSON numbers and strings are both accepted
// on read; it is always written as a string.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// TicketType is the kind of feedback a message carries.
type TicketType string

const (
	Suggestion TicketType = "suggestion"
	Complaint  TicketType = "complaint"
)

// Status is the sync status of a buffered record.
type Status string

const (
	Pending        Status = "pending"
	OfflinePending Status = "offline_pending"
	Synced         Status = "synced"
	SyncFailed     Status = "sync_failed"
)

// statusTransitions lists the forward moves allowed from each status.
// Synced and SyncFailed are terminal.
var statusTransitions = map[Status][]Status{
	"":             {Pending, OfflinePending, Synced, SyncFailed},
	OfflinePending: {Pending, Synced, SyncFailed},
	Pending:        {Synced, SyncFailed},
}

// CanTransition reports whether a record may move from one status to another.
// Staying in a non-terminal status is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.Terminal()
	}
	return slices.Contains(statusTransitions[from], to)
}

// Terminal reports whether no further sync attempts are made from s.
func (s Status) Terminal() bool {
	return s == Synced || s == SyncFailed
}

// User is a registered chat user.
type User struct {
	UserID       ID         `json:"userId,omitempty"`
	ChatID       ID         `json:"chatId"`
	FullName     string     `json:"fullName"`
	Phone        string     `json:"phone,omitempty"`
	Course       string     `json:"course,omitempty"`
	Direction    string     `json:"direction,omitempty"`
	Language     string     `json:"language,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	Synced       bool       `json:"synced"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
	SyncAttempts int        `json:"syncAttempts,omitempty"`
	SyncStatus   Status     `json:"syncStatus,omitempty"`
}

// Key is the identifier users are matched on.
func (u User) Key() ID {
	if u.ChatID != "" {
		return u.ChatID
	}
	return u.UserID
}

// NeedsSync reports whether the user is still waiting to reach the backend.
func (u User) NeedsSync() bool {
	return !u.Synced && u.SyncStatus != SyncFailed
}

// Message is a feedback ticket.
type Message struct {
	MessageID    string     `json:"messageId"`
	UserID       ID         `json:"userId"`
	ChatID       ID         `json:"chatId"`
	Timestamp    time.Time  `json:"timestamp"`
	Status       Status     `json:"status"`
	TicketType   TicketType `json:"ticketType"`
	Text         string     `json:"text"`
	Language     string     `json:"language"`
	IsActive     bool       `json:"isactive"`
	Substatus    *string    `json:"substatus"`
	TicketNumber string     `json:"ticketNumber,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	Synced       bool       `json:"synced"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
	SyncAttempts int        `json:"syncAttempts,omitempty"`
}

// Owner is the user the message belongs to.
func (m Message) Owner() ID {
	if m.UserID != "" {
		return m.UserID
	}
	return m.ChatID
}

// NeedsSync reports whether the message is still waiting to reach the backend.
func (m Message) NeedsSync() bool {
	if m.Status == SyncFailed {
		return false
	}
	return m.Status == OfflinePending || m.Status == Pending || !m.Synced
}

// Tokens is the persisted auth token pair.
type Tokens struct {
	Access    string     `json:"access"`
	Refresh   string     `json:"refresh"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}
