package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/localstore"
)

// MaxTextLength is the longest ticket text the backend accepts, in characters.
const MaxTextLength = 1000

// Message is the backend's ticket record.
type Message struct {
	MessageID  string                `json:"messageId"`
	UserID     localstore.ID         `json:"userId"`
	ChatID     localstore.ID         `json:"chatId"`
	Timestamp  time.Time             `json:"timestamp"`
	Status     localstore.Status     `json:"status"`
	TicketType localstore.TicketType `json:"ticketType"`
	Text       string                `json:"text"`
	Language   string                `json:"language"`
	IsActive   bool                  `json:"isactive"`
	Substatus  *string               `json:"substatus"`
}

// MessageFromRecord drops local-only fields (sync state, priority, ticket number).
// Replays are always sent as pending.
func MessageFromRecord(m localstore.Message) Message {
	return Message{
		MessageID:  m.MessageID,
		UserID:     m.UserID,
		ChatID:     m.ChatID,
		Timestamp:  m.Timestamp,
		Status:     localstore.Pending,
		TicketType: m.TicketType,
		Text:       m.Text,
		Language:   m.Language,
		IsActive:   m.IsActive,
		Substatus:  m.Substatus,
	}
}

// Validate checks the fields the backend requires, without a network call.
func (m Message) Validate() error {
	const op = "save_message"
	var missing []string
	check := func(name string, empty bool) {
		if empty {
			missing = append(missing, name)
		}
	}
	check("messageId", m.MessageID == "")
	check("userId", m.UserID == "")
	check("chatId", m.ChatID == "")
	check("timestamp", m.Timestamp.IsZero())
	check("status", m.Status == "")
	check("ticketType", m.TicketType == "")
	check("text", m.Text == "")
	check("language", m.Language == "")
	if m.TicketType == localstore.Complaint {
		check("substatus", m.Substatus == nil || *m.Substatus == "")
	}
	if len(missing) > 0 {
		return validationError(op, missing, "missing required fields")
	}
	if m.TicketType != localstore.Suggestion && m.TicketType != localstore.Complaint {
		return validationError(op, []string{"ticketType"}, "unknown ticket type "+strconv.Quote(string(m.TicketType)))
	}
	if strings.TrimSpace(m.Text) == "" {
		return validationError(op, []string{"text"}, "text is empty")
	}
	if n := utf8.RuneCountInString(m.Text); n > MaxTextLength {
		return validationError(op, []string{"text"}, "text is "+strconv.Itoa(n)+" characters, max "+strconv.Itoa(MaxTextLength))
	}
	return nil
}

// SaveMessage submits a ticket. Invalid tickets fail before any request is made.
func (c *Client) SaveMessage(ctx context.Context, m Message) error {
	const op = "save_message"
	if m.TicketType == localstore.Suggestion {
		m.Substatus = nil
	}
	if err := m.Validate(); err != nil {
		return err
	}

	resp, err := c.do(ctx, request{op: op, method: http.MethodPost, path: "/messages", body: m})
	if err != nil {
		return err
	}
	switch {
	case resp.ok():
		c.logger.Info("message saved", zap.String("message_id", m.MessageID), zap.String("type", string(m.TicketType)))
		return nil
	case resp.status == http.StatusBadRequest:
		e := statusError(op, KindValidation, resp)
		if e.Message == "" {
			e.Message = "invalid message data"
		}
		return e
	case resp.status == http.StatusRequestEntityTooLarge:
		return statusError(op, KindPayloadTooLarge, resp)
	default:
		return statusError(op, KindRequest, resp)
	}
}

// GetUserMessages lists a user's most recent tickets.
func (c *Client) GetUserMessages(ctx context.Context, id string, limit int) ([]Message, error) {
	const op = "list_messages"
	if limit <= 0 {
		limit = 10
	}
	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   "/messages",
		query:  url.Values{"userId": {id}, "limit": {strconv.Itoa(limit)}},
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(op, KindRequest, resp)
	}

	data := json.RawMessage(resp.body)
	if env, ok := decodeEnvelope(resp.body); ok {
		data = env.Data
	}
	var list []Message
	if json.Unmarshal(data, &list) == nil {
		return list, nil
	}
	var wrapped struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, &Error{Kind: KindRequest, Op: op, Status: resp.status, Message: "unexpected response body", Err: err}
	}
	return wrapped.Messages, nil
}
