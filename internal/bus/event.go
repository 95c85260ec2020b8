package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter on the namespace before the dot.
const (
	KindSyncPassStarted   = "sync.pass_started"
	KindSyncPassCompleted = "sync.pass_completed"
	KindSyncPassSkipped   = "sync.pass_skipped"
	KindSyncRecordSynced  = "sync.record_synced"
	KindSyncRecordFailed  = "sync.record_terminal"

	KindChatInbound      = "chat.inbound"
	KindChatQR           = "chat.qr"
	KindChatLinked       = "chat.linked"
	KindChatConnected    = "chat.connected"
	KindChatDisconnected = "chat.disconnected"
	KindChatLoggedOut    = "chat.logged_out"

	KindFeedbackBuffered = "feedback.buffered"

	KindOutboxSent   = "outbox.sent"
	KindOutboxFailed = "outbox.failed"

	KindDaemonStatus = "daemon.status_changed"
)

// SyncPass is the payload of sync.pass_* events.
type SyncPass struct {
	StartedAt        time.Time
	UsersSynced      int
	UsersFailed      int
	MessagesSynced   int
	MessagesFailed   int
	MessagesTerminal int
}

// SyncRecord is the payload of sync.record_* events.
type SyncRecord struct {
	Kind     string // "user" or "message"
	RecordID string
	Attempts int
}

// InboundMessage is a chat message received by the transport.
type InboundMessage struct {
	ChatID     string
	MessageID  string
	SenderName string
	Text       string
	Timestamp  time.Time
}

// Buffered is the payload of feedback.buffered: a record kept locally for a later pass.
type Buffered struct {
	Kind     string
	RecordID string
	Reason   string
}

// OutboxReply is the payload of outbox.* events. It never carries the body.
type OutboxReply struct {
	ClientMsgID string
	ChatID      string
	Attempts    int
	Error       string
}
