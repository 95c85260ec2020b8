package journal

import "time"

// Reply statuses in the outbox.
const (
	ReplyQueued = "queued"
	ReplySent   = "sent"
	ReplyFailed = "failed"
)

// Reply is a bot reply waiting in, or delivered from, the outbox.
type Reply struct {
	ID          int64
	ClientMsgID string
	ChatID      string
	Body        string
	Status      string
	Attempts    int
	Error       string
	ServerMsgID string
	CreatedAt   time.Time
}

// QueueReply adds a reply to the outbox.
func (db *DB) QueueReply(clientMsgID, chatID, body string, now time.Time) error {
	ts := now.UnixMilli()
	_, err := db.Exec(`
		INSERT INTO reply_outbox (client_msg_id, chat_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		clientMsgID, chatID, body, ReplyQueued, ts, ts)
	return err
}

// QueuedReplies returns queued replies oldest first.
func (db *DB) QueuedReplies(limit int) ([]Reply, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, chat_id, body, status, attempts, error, server_msg_id, created_at
		FROM reply_outbox WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		ReplyQueued, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Reply
	for rows.Next() {
		var r Reply
		var created int64
		if err := rows.Scan(&r.ID, &r.ClientMsgID, &r.ChatID, &r.Body, &r.Status, &r.Attempts, &r.Error, &r.ServerMsgID, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountQueuedReplies returns how many replies wait for delivery.
func (db *DB) CountQueuedReplies() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM reply_outbox WHERE status = ?`, ReplyQueued).Scan(&n)
	return n, err
}

// MarkReplySent records a delivered reply.
func (db *DB) MarkReplySent(clientMsgID, serverMsgID string, now time.Time) error {
	_, err := db.Exec(`
		UPDATE reply_outbox SET status = ?, server_msg_id = ?, attempts = attempts + 1, error = '', updated_at = ?
		WHERE client_msg_id = ?`,
		ReplySent, serverMsgID, now.UnixMilli(), clientMsgID)
	return err
}

// MarkReplyAttemptFailed counts a failed delivery. A terminal failure leaves
// the queue; otherwise the reply is retried.
func (db *DB) MarkReplyAttemptFailed(clientMsgID, errMsg string, terminal bool, now time.Time) error {
	status := ReplyQueued
	if terminal {
		status = ReplyFailed
	}
	_, err := db.Exec(`
		UPDATE reply_outbox SET status = ?, attempts = attempts + 1, error = ?, updated_at = ?
		WHERE client_msg_id = ?`,
		status, errMsg, now.UnixMilli(), clientMsgID)
	return err
}

// PruneReplies deletes delivered or failed replies last touched before cutoff.
func (db *DB) PruneReplies(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM reply_outbox WHERE status != ? AND updated_at < ?`, ReplyQueued, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
