// Package bot runs the feedback conversation: registration, the main menu and
// ticket submission, in Uzbek or Russian, over any text transport.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/feedback"
	"github.com/usat-ai-lab/taklif/internal/localstore"
)

const (
	courseCount        = 4
	maxDirectionLength = 100
	ticketListLimit    = 5
)

// Feedback is the caller layer the dialog submits through.
type Feedback interface {
	Lookup(ctx context.Context, id localstore.ID) (*backend.User, error)
	Register(ctx context.Context, u localstore.User) (feedback.Receipt, error)
	Submit(ctx context.Context, t feedback.Ticket) (feedback.Receipt, error)
	Touch(ctx context.Context, id localstore.ID)
	Tickets(ctx context.Context, id localstore.ID, limit int) ([]backend.Message, error)
}

// Sender delivers a reply to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) (string, error)
}

// Limits are the user input bounds.
type Limits struct {
	MinText      int
	MaxText      int
	MaxName      int
	MinNameWords int
}

// DefaultLimits matches the backend's own limits.
var DefaultLimits = Limits{MinText: 10, MaxText: backend.MaxTextLength, MaxName: 50, MinNameWords: 2}

// Options configures a Dialog.
type Options struct {
	Limits Limits
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Dialog answers inbound chat messages.
type Dialog struct {
	feedback Feedback
	sender   Sender
	sessions *Sessions
	limits   Limits
	bus      *bus.Bus
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDialog creates a Dialog.
func NewDialog(f Feedback, sender Sender, sessions *Sessions, opts Options) *Dialog {
	d := &Dialog{
		feedback: f,
		sender:   sender,
		sessions: sessions,
		limits:   opts.Limits,
		bus:      opts.Bus,
		logger:   opts.Logger,
	}
	if d.limits == (Limits{}) {
		d.limits = DefaultLimits
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Start handles chat.inbound events from Options.Bus until Stop. Messages are
// handled one at a time.
func (d *Dialog) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	ch, unsub := d.bus.Subscribe(bus.KindChatInbound, 256)

	go func() {
		defer close(d.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				msg, ok := evt.Payload.(bus.InboundMessage)
				if !ok {
					continue
				}
				d.Handle(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops handling events and waits for the current message to finish.
func (d *Dialog) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}
}

// OwnerID is the user id for a chat: the chat address without its server part.
func OwnerID(chatID string) localstore.ID {
	user, _, _ := strings.Cut(chatID, "@")
	return localstore.ID(user)
}

// Handle advances the chat's dialog by one inbound message.
func (d *Dialog) Handle(ctx context.Context, in bus.InboundMessage) {
	text := Sanitize(in.Text)
	sess, ok := d.sessions.Get(in.ChatID)
	if ok {
		sess.ErrorAt = nil
	}

	switch strings.ToLower(text) {
	case "/start":
		d.start(ctx, in.ChatID)
		return
	case "/help":
		d.reply(ctx, in.ChatID, T(sess.Lang).Help)
		return
	case "/menu":
		if !ok || !sess.Registered {
			d.start(ctx, in.ChatID)
			return
		}
		sess.State = StateIdle
		d.sessions.Put(sess)
		d.reply(ctx, in.ChatID, T(sess.Lang).Menu)
		return
	}
	if !ok {
		d.start(ctx, in.ChatID)
		return
	}

	switch sess.State {
	case StateLanguage:
		d.onLanguage(ctx, sess, text)
	case StateName:
		d.onName(ctx, sess, text)
	case StatePhone:
		d.onPhone(ctx, sess, text)
	case StateCourse:
		d.onCourse(ctx, sess, text)
	case StateDirection:
		d.onDirection(ctx, sess, text)
	case StateCategory:
		d.onCategory(ctx, sess, text)
	case StateText:
		d.onText(ctx, sess, text)
	default:
		d.onMenu(ctx, sess, text)
	}
}

func (d *Dialog) start(ctx context.Context, chatID string) {
	owner := OwnerID(chatID)
	u, err := d.feedback.Lookup(ctx, owner)
	if err != nil {
		d.logger.Warn("user lookup failed, starting registration", zap.String("chat_id", chatID), zap.Error(err))
	}
	if u == nil {
		d.sessions.Put(Session{ChatID: chatID, State: StateLanguage})
		d.reply(ctx, chatID, ChooseLanguage)
		return
	}

	lang := Lang(u.Language)
	if _, ok := texts[lang]; !ok {
		lang = Uzbek
	}
	d.feedback.Touch(ctx, owner)
	d.sessions.Put(Session{ChatID: chatID, State: StateIdle, Lang: lang, Registered: true, FullName: u.FullName})
	t := T(lang)
	d.reply(ctx, chatID, t.Welcome(u.FullName)+"\n\n"+t.Menu)
}

func (d *Dialog) onLanguage(ctx context.Context, sess Session, text string) {
	lang, ok := ParseLang(text)
	if !ok {
		d.reply(ctx, sess.ChatID, ChooseLanguage)
		return
	}
	sess.Lang = lang
	sess.State = StateName
	d.sessions.Put(sess)
	d.reply(ctx, sess.ChatID, T(lang).AskName)
}

func (d *Dialog) onName(ctx context.Context, sess Session, text string) {
	t := T(sess.Lang)
	if !ValidFullName(text, d.limits.MinNameWords, d.limits.MaxName) {
		d.reply(ctx, sess.ChatID, t.InvalidName)
		return
	}
	sess.FullName = strings.Join(strings.Fields(text), " ")
	sess.State = StatePhone
	d.sessions.Put(sess)
	d.reply(ctx, sess.ChatID, t.AskPhone)
}

func (d *Dialog) onPhone(ctx context.Context, sess Session, text string) {
	t := T(sess.Lang)
	phone, ok := NormalizePhone(text)
	if !ok {
		d.reply(ctx, sess.ChatID, t.InvalidPhone)
		return
	}
	sess.Phone = phone
	sess.State = StateCourse
	d.sessions.Put(sess)
	d.reply(ctx, sess.ChatID, t.AskCourse)
}

func (d *Dialog) onCourse(ctx context.Context, sess Session, text string) {
	t := T(sess.Lang)
	n, ok := choice(strings.TrimSuffix(strings.TrimSpace(strings.ToLower(text)), "-kurs"), courseCount)
	if !ok {
		d.reply(ctx, sess.ChatID, t.InvalidChoice+"\n"+t.AskCourse)
		return
	}
	sess.Course = fmt.Sprintf("%d-kurs", n)
	sess.State = StateDirection
	d.sessions.Put(sess)
	d.reply(ctx, sess.ChatID, t.AskDirection)
}

func (d *Dialog) onDirection(ctx context.Context, sess Session, text string) {
	t := T(sess.Lang)
	if text == "" || utf8.RuneCountInString(text) > maxDirectionLength {
		d.reply(ctx, sess.ChatID, t.InvalidDirection)
		return
	}
	sess.Direction = text
	d.register(ctx, sess)
}

func (d *Dialog) register(ctx context.Context, sess Session) {
	t := T(sess.Lang)
	owner := OwnerID(sess.ChatID)
	receipt, err := d.feedback.Register(ctx, localstore.User{
		UserID:    owner,
		ChatID:    owner,
		FullName:  sess.FullName,
		Phone:     sess.Phone,
		Course:    sess.Course,
		Direction: sess.Direction,
		Language:  string(sess.Lang),
	})

	switch {
	case err == nil:
		msg := t.Registered
		if receipt.Buffered {
			msg = t.RegisteredOffline
		}
		d.toMenu(ctx, sess, msg)
	case errors.Is(err, feedback.ErrAlreadyRegistered):
		d.toMenu(ctx, sess, t.AlreadyRegistered)
	default:
		c := Classify(err)
		d.logger.Error("registration failed", zap.String("chat_id", sess.ChatID), zap.String("category", string(c.Category)), zap.Error(err))
		if !c.ShouldRetry {
			// Bad data: collect it again from the name step.
			sess.State = StateName
			d.fail(sess)
			d.reply(ctx, sess.ChatID, t.Errors[c.Category]+"\n"+t.AskName)
			return
		}
		sess.State = StateDirection
		d.fail(sess)
		d.reply(ctx, sess.ChatID, t.Errors[c.Category]+"\n"+t.AskDirection)
	}
}

func (d *Dialog) toMenu(ctx context.Context, sess Session, msg string) {
	sess.Registered = true
	sess.State = StateIdle
	sess.TicketType, sess.Category = "", ""
	d.sessions.Put(sess)
	d.reply(ctx, sess.ChatID, msg+"\n\n"+T(sess.Lang).Menu)
}

func (d *Dialog) onMenu(ctx context.Context, sess Session, text string) {
	t := T(sess.Lang)
	if !sess.Registered {
		d.reply(ctx, sess.ChatID, t.PleaseRegister)
		return
	}
	n, ok := choice(text, 3)
	switch {
	case !ok:
		d.reply(ctx, sess.ChatID, t.Menu)
	case n == 1:
		sess.TicketType = localstore.Suggestion
		sess.State = StateText
		d.sessions.Put(sess)
		d.reply(ctx, sess.ChatID, t.AskText(t.TicketTypes[string(sess.TicketType)]))
	case n == 2:
		sess.TicketType = localstore.Complaint
		sess.State = StateCategory
		d.sessions.Put(sess)
		d.reply(ctx, sess.ChatID, categoryList(t))
	default:
		d.sessions.Put(sess)
		d.reply(ctx, sess.ChatID, d.ticketList(ctx, sess)+"\n\n"+t.Menu)
	}
}

func (d *Dialog) onCategory(ctx context.Context, sess Session, text string) {
	t := T(sess.Lang)
	n, ok := choice(text, len(t.Categories))
	if !ok {
		d.reply(ctx, sess.ChatID, t.InvalidChoice+"\n"+categoryList(t))
		return
	}
	sess.Category = t.Categories[n-1].Value
	sess.State = StateText
	d.sessions.Put(sess)
	d.reply(ctx, sess.ChatID, t.AskText(t.TicketTypes[string(sess.TicketType)]))
}

func (d *Dialog) onText(ctx context.Context, sess Session, text string) {
	t := T(sess.Lang)
	switch err := CheckText(text, d.limits.MinText, d.limits.MaxText); {
	case errors.Is(err, ErrTextEmpty):
		d.reply(ctx, sess.ChatID, t.TextEmpty)
		return
	case errors.Is(err, ErrTextTooShort):
		d.reply(ctx, sess.ChatID, t.TextTooShort(d.limits.MinText))
		return
	case errors.Is(err, ErrTextTooLong):
		d.reply(ctx, sess.ChatID, t.TextTooLong(d.limits.MaxText))
		return
	case errors.Is(err, ErrTextSpam):
		d.reply(ctx, sess.ChatID, t.TextSpam)
		return
	}

	typeName := t.TicketTypes[string(sess.TicketType)]
	receipt, err := d.feedback.Submit(ctx, feedback.Ticket{
		Owner:    OwnerID(sess.ChatID),
		Type:     sess.TicketType,
		Category: sess.Category,
		Text:     text,
		Language: string(sess.Lang),
	})
	if err != nil {
		c := Classify(err)
		d.logger.Error("ticket submission failed", zap.String("chat_id", sess.ChatID), zap.String("category", string(c.Category)), zap.Error(err))
		d.fail(sess)
		d.reply(ctx, sess.ChatID, t.Errors[c.Category])
		return
	}

	msg := t.Submitted(typeName, receipt.TicketNumber)
	if receipt.Buffered {
		msg = t.SubmittedOffline(typeName, receipt.TicketNumber)
	}
	d.logger.Info("ticket accepted",
		zap.String("chat_id", sess.ChatID),
		zap.String("ticket", receipt.TicketNumber),
		zap.String("priority", string(receipt.Priority)),
		zap.Bool("buffered", receipt.Buffered),
	)
	d.toMenu(ctx, sess, msg)
}

func (d *Dialog) ticketList(ctx context.Context, sess Session) string {
	t := T(sess.Lang)
	msgs, err := d.feedback.Tickets(ctx, OwnerID(sess.ChatID), ticketListLimit)
	if err != nil {
		return t.Errors[Classify(err).Category]
	}
	if len(msgs) == 0 {
		return t.NoTickets
	}
	var b strings.Builder
	b.WriteString(t.TicketsHeader)
	for i, m := range msgs {
		status := t.TicketStatus[string(m.Status)]
		if status == "" {
			status = string(m.Status)
		}
		fmt.Fprintf(&b, "\n%d. [%s] %s (%s)", i+1, t.TicketTypes[string(m.TicketType)], preview(m.Text, 60), status)
	}
	return b.String()
}

// fail keeps sess with its error time set so the sweep can drop it if the
// user never comes back.
func (d *Dialog) fail(sess Session) {
	now := d.sessions.opts.Now()
	sess.ErrorAt = &now
	d.sessions.Put(sess)
}

func (d *Dialog) reply(ctx context.Context, chatID, text string) {
	if _, err := d.sender.SendText(ctx, chatID, text); err != nil {
		d.logger.Error("failed to send reply", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func categoryList(t *Texts) string {
	var b strings.Builder
	b.WriteString(t.AskCategory)
	for i, c := range t.Categories {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
	}
	return b.String()
}

// choice parses a 1-based menu number no larger than n.
func choice(text string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v, true
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
