package wa

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/usat-ai-lab/taklif/internal/bus"
)

// ParsedMessage is a normalized incoming message.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	IsGroup     bool
	Timestamp   time.Time
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return &ParsedMessage{
		ChatJID:     evt.Info.Chat.ToNonAD().String(),
		MsgID:       evt.Info.ID,
		SenderJID:   evt.Info.Sender.ToNonAD().String(),
		SenderName:  evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		IsGroup:     evt.Info.IsGroup || evt.Info.Chat.Server == types.GroupServer,
		Timestamp:   evt.Info.Timestamp,
	}
}

// Conversational reports whether the bot should answer the message: a text
// from someone else in a personal chat.
func (p *ParsedMessage) Conversational() bool {
	return !p.FromMe && !p.IsGroup && p.MessageType == "text" && p.ChatJID != types.StatusBroadcastJID.String()
}

// ToInbound converts p to the bus payload the dialog consumes.
func (p *ParsedMessage) ToInbound() bus.InboundMessage {
	return bus.InboundMessage{
		ChatID:     p.ChatJID,
		MessageID:  p.MsgID,
		SenderName: p.SenderName,
		Text:       p.Body,
		Timestamp:  p.Timestamp,
	}
}

// NormalizeJID strips device and agent suffixes ("998901234567:3@s.whatsapp.net"
// becomes "998901234567@s.whatsapp.net"). Unparseable input is returned as is.
func NormalizeJID(jid string) string {
	if jid == "" {
		return ""
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return parsed.ToNonAD().String()
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
