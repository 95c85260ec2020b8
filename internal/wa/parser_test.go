package wa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, "contact"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMessageType(tt.msg)
			if got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Ali",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "998901234567", Server: types.DefaultUserServer},
				Sender: types.JID{User: "998901234567", Server: types.DefaultUserServer},
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("/start")},
	}

	parsed := ParseLiveMessage(evt)
	assert.Equal(t, "998901234567@s.whatsapp.net", parsed.ChatJID)
	assert.Equal(t, "MSG123", parsed.MsgID)
	assert.Equal(t, "Ali", parsed.SenderName)
	assert.Equal(t, "text", parsed.MessageType)
	assert.True(t, parsed.Conversational())

	in := parsed.ToInbound()
	assert.Equal(t, "998901234567@s.whatsapp.net", in.ChatID)
	assert.Equal(t, "/start", in.Text)
	assert.Equal(t, ts, in.Timestamp)
}

func TestConversational(t *testing.T) {
	base := ParsedMessage{ChatJID: "998901234567@s.whatsapp.net", MessageType: "text"}
	tests := []struct {
		name   string
		mutate func(*ParsedMessage)
		want   bool
	}{
		{"personal text", func(*ParsedMessage) {}, true},
		{"own message", func(p *ParsedMessage) { p.FromMe = true }, false},
		{"group", func(p *ParsedMessage) { p.IsGroup = true }, false},
		{"image", func(p *ParsedMessage) { p.MessageType = "image" }, false},
		{"status broadcast", func(p *ParsedMessage) { p.ChatJID = "status@broadcast" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			assert.Equal(t, tt.want, p.Conversational())
		})
	}
}

func TestParseLiveMessageGroupServer(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID: "G1",
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "120363123456", Server: types.GroupServer},
				Sender: types.JID{User: "998901234567", Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("salom")},
	}
	assert.True(t, ParseLiveMessage(evt).IsGroup)
}

// TestNormalizeJID verifies that device/agent suffixes are stripped.
func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"998901234567@s.whatsapp.net", "998901234567@s.whatsapp.net"},
		{"998901234567:0@s.whatsapp.net", "998901234567@s.whatsapp.net"},
		{"998901234567:5@s.whatsapp.net", "998901234567@s.whatsapp.net"},
		{"120363123456@g.us", "120363123456@g.us"},
		{"", ""},
		{"3917077286968@lid", "3917077286968@lid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeJID(tt.input))
		})
	}
}

// TestParseLiveMessageStripsDeviceSuffix verifies that replies go to the
// canonical user JID rather than the sending device.
func TestParseLiveMessageStripsDeviceSuffix(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "998901234567", Server: types.DefaultUserServer, Device: 1},
				Sender: types.JID{User: "998901234567", Server: types.DefaultUserServer, Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	}

	parsed := ParseLiveMessage(evt)
	assert.Equal(t, "998901234567@s.whatsapp.net", parsed.ChatJID)
	assert.Equal(t, "998901234567@s.whatsapp.net", parsed.SenderJID)
}

func TestParseLiveMessageImageType(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "IMG1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "c", Server: types.DefaultUserServer},
				Sender: types.JID{User: "s", Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
	}

	parsed := ParseLiveMessage(evt)
	assert.Equal(t, "image", parsed.MessageType)
	assert.Empty(t, parsed.Body)
	assert.False(t, parsed.Conversational())
}
