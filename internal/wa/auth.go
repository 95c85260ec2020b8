package wa

import (
	"context"
	"errors"

	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/bus"
)

// ErrAlreadyPaired is returned by StartQRAuth when the device has credentials.
var ErrAlreadyPaired = errors.New("device already paired")

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents a pairing lifecycle event.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// StartQRAuth connects an unpaired device and streams pairing events. Each new
// QR code is also published as chat.qr, and success as chat.linked. The
// channel closes when pairing ends.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	if a.IsLoggedIn() {
		return nil, ErrAlreadyPaired
	}
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)
	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			out <- AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()}
			return
		}
		for item := range qrChan {
			evt, done := a.pairingEvent(item)
			if evt.Type != "" {
				out <- evt
			}
			if done {
				return
			}
		}
	}()
	return out, nil
}

func (a *Adapter) pairingEvent(item whatsmeow.QRChannelItem) (AuthEvent, bool) {
	switch {
	case item.Event == "code":
		a.bus.Emit(bus.KindChatQR, item.Code)
		return AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}, false
	case item.Event == "success":
		a.logger.Info("WhatsApp device paired", zap.String("phone", a.PhoneNumber()))
		a.bus.Emit(bus.KindChatLinked, a.PhoneNumber())
		return AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, true
	case item.Event == "timeout":
		a.logger.Warn("WhatsApp pairing timed out")
		return AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, true
	case item.Error != nil:
		a.logger.Error("WhatsApp pairing failed", zap.Error(item.Error))
		return AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}, true
	}
	return AuthEvent{}, false
}

// Run connects a paired device, or starts pairing and logs each QR code.
// It returns once the connection attempt is under way.
func (a *Adapter) Run(ctx context.Context) error {
	if a.IsLoggedIn() {
		return a.Connect()
	}
	events, err := a.StartQRAuth(ctx)
	if err != nil {
		return err
	}
	go func() {
		for evt := range events {
			if evt.Type == AuthEventQRCode {
				a.logger.Info("scan QR code to link the bot", zap.String("qr", evt.QRCode))
			}
		}
	}()
	return nil
}
