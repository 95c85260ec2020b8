package wa

import (
	"context"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/bus"
)

// Resolver maps a LID chat to the phone-number chat it belongs to.
type Resolver interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// EventHandler turns whatsmeow events into bus events. It does not call the
// dialog directly; the dialog subscribes to chat.inbound on its own.
type EventHandler struct {
	bus      *bus.Bus
	resolver Resolver
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler. resolver may be nil.
func NewEventHandler(b *bus.Bus, resolver Resolver, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:      b,
		resolver: resolver,
		logger:   logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.bus.Emit(bus.KindChatConnected, nil)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.bus.Emit(bus.KindChatDisconnected, nil)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.bus.Emit(bus.KindChatLoggedOut, evt.Reason.String())
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if h.resolver != nil {
		// Reply to, and register under, the phone number rather than the LID.
		evt.Info.Chat = h.resolver.ResolveLID(context.Background(), evt.Info.Chat)
	}
	parsed := ParseLiveMessage(evt)
	if !parsed.Conversational() {
		h.logger.Debug("ignoring message",
			zap.String("chat", parsed.ChatJID),
			zap.String("type", parsed.MessageType),
			zap.Bool("from_me", parsed.FromMe),
			zap.Bool("group", parsed.IsGroup),
		)
		return
	}
	h.bus.Emit(bus.KindChatInbound, parsed.ToInbound())
}
