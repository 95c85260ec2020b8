package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/feedback"
	"github.com/usat-ai-lab/taklif/internal/localstore"
)

// mockFeedback records calls and answers from its fields.
type mockFeedback struct {
	mu          sync.Mutex
	known       map[localstore.ID]*backend.User
	registerErr error
	buffered    bool
	submitErr   error
	registered  []localstore.User
	submitted   []feedback.Ticket
	touched     []localstore.ID
	tickets     []backend.Message
}

func newMockFeedback() *mockFeedback {
	return &mockFeedback{known: make(map[localstore.ID]*backend.User)}
}

func (m *mockFeedback) Lookup(_ context.Context, id localstore.ID) (*backend.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[id], nil
}

func (m *mockFeedback) Register(_ context.Context, u localstore.User) (feedback.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, u)
	if m.registerErr != nil {
		return feedback.Receipt{}, m.registerErr
	}
	return feedback.Receipt{Buffered: m.buffered}, nil
}

func (m *mockFeedback) Submit(_ context.Context, t feedback.Ticket) (feedback.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, t)
	if m.submitErr != nil {
		return feedback.Receipt{}, m.submitErr
	}
	return feedback.Receipt{Buffered: m.buffered, TicketNumber: "USAT-123456"}, nil
}

func (m *mockFeedback) Touch(_ context.Context, id localstore.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
}

func (m *mockFeedback) Tickets(context.Context, localstore.ID, int) ([]backend.Message, error) {
	return m.tickets, nil
}

// recorder collects replies per chat.
type recorder struct {
	mu      sync.Mutex
	replies []string
}

func (r *recorder) SendText(_ context.Context, _ string, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return fmt.Sprintf("srv-%d", len(r.replies)), nil
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

const chat = "998901234567@s.whatsapp.net"

type harness struct {
	t        *testing.T
	fb       *mockFeedback
	out      *recorder
	sessions *Sessions
	dialog   *Dialog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, fb: newMockFeedback(), out: &recorder{}, sessions: NewSessions(SessionOptions{})}
	h.dialog = NewDialog(h.fb, h.out, h.sessions, Options{})
	return h
}

// say sends text and returns the bot's reply.
func (h *harness) say(text string) string {
	h.t.Helper()
	h.dialog.Handle(context.Background(), bus.InboundMessage{ChatID: chat, Text: text})
	return h.out.last()
}

func (h *harness) state() State {
	h.t.Helper()
	sess, ok := h.sessions.Get(chat)
	require.True(h.t, ok)
	return sess.State
}

func (h *harness) register() {
	h.t.Helper()
	h.say("/start")
	h.say("1")
	h.say("Ali Valiyev")
	h.say("+998 90 123 45 67")
	h.say("2")
	h.say("Dasturiy injiniring")
}

func TestRegistrationFlow(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, ChooseLanguage, h.say("/start"))
	assert.Equal(t, StateLanguage, h.state())

	assert.Equal(t, ChooseLanguage, h.say("fr"))
	assert.Equal(t, T(Uzbek).AskName, h.say("1"))

	assert.Equal(t, T(Uzbek).InvalidName, h.say("Ali"))
	assert.Equal(t, T(Uzbek).AskPhone, h.say("  Ali   Valiyev "))

	assert.Equal(t, T(Uzbek).InvalidPhone, h.say("90 123 45 67"))
	assert.Equal(t, T(Uzbek).AskCourse, h.say("+998 90 123-45-67"))

	assert.Contains(t, h.say("7"), T(Uzbek).InvalidChoice)
	assert.Equal(t, T(Uzbek).AskDirection, h.say("2-kurs"))

	reply := h.say("Dasturiy injiniring")
	assert.True(t, strings.HasPrefix(reply, T(Uzbek).Registered))
	assert.Contains(t, reply, T(Uzbek).Menu)
	assert.Equal(t, StateIdle, h.state())

	require.Len(t, h.fb.registered, 1)
	assert.Equal(t, localstore.User{
		UserID:    "998901234567",
		ChatID:    "998901234567",
		FullName:  "Ali Valiyev",
		Phone:     "+998901234567",
		Course:    "2-kurs",
		Direction: "Dasturiy injiniring",
		Language:  "uz",
	}, h.fb.registered[0])
}

func TestRegistrationOffline(t *testing.T) {
	h := newHarness(t)
	h.fb.buffered = true
	h.register()
	assert.True(t, strings.HasPrefix(h.out.last(), T(Uzbek).RegisteredOffline))
	assert.Equal(t, StateIdle, h.state())
}

func TestRegistrationDuplicate(t *testing.T) {
	h := newHarness(t)
	h.fb.registerErr = fmt.Errorf("%w: %w", feedback.ErrAlreadyRegistered, &backend.Error{Kind: backend.KindDuplicate})
	h.register()
	assert.True(t, strings.HasPrefix(h.out.last(), T(Uzbek).AlreadyRegistered))
	assert.Equal(t, StateIdle, h.state())
}

func TestRegistrationTransientErrorKeepsStep(t *testing.T) {
	h := newHarness(t)
	h.fb.registerErr = &backend.Error{Kind: backend.KindTimeout}
	h.register()

	assert.True(t, strings.HasPrefix(h.out.last(), T(Uzbek).Errors[ErrTimeout]))
	sess, _ := h.sessions.Get(chat)
	assert.Equal(t, StateDirection, sess.State)
	assert.NotNil(t, sess.ErrorAt)

	// Resending the direction retries.
	h.fb.registerErr = nil
	h.say("Dasturiy injiniring")
	assert.Len(t, h.fb.registered, 2)
	sess, _ = h.sessions.Get(chat)
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.ErrorAt)
}

func TestRussianComplaint(t *testing.T) {
	h := newHarness(t)
	h.say("/start")
	h.say("2")
	h.say("Али Валиев")
	h.say("+998901234567")
	h.say("1")
	h.say("Программная инженерия")
	require.Equal(t, StateIdle, h.state())

	assert.Contains(t, h.say("2"), "6. Деканат")
	assert.Equal(t, StateCategory, h.state())
	assert.Contains(t, h.say("6"), "жалоба")

	assert.Equal(t, T(Russian).TextTooShort(10), h.say("Плохо"))
	reply := h.say("Расписание публикуется слишком поздно")
	assert.Contains(t, reply, "USAT-123456")

	require.Len(t, h.fb.submitted, 1)
	got := h.fb.submitted[0]
	assert.Equal(t, localstore.Complaint, got.Type)
	assert.Equal(t, "Dekanat", got.Category)
	assert.Equal(t, "ru", got.Language)
	assert.Equal(t, localstore.ID("998901234567"), got.Owner)
	assert.Equal(t, StateIdle, h.state())
}

func TestKnownUserGoesToMenu(t *testing.T) {
	h := newHarness(t)
	h.fb.known["998901234567"] = &backend.User{FullName: "Ali Valiyev", Language: "ru"}

	reply := h.say("salom")
	assert.Contains(t, reply, "Ali Valiyev")
	assert.Contains(t, reply, T(Russian).Menu)
	assert.Equal(t, []localstore.ID{"998901234567"}, h.fb.touched)

	h.say("1")
	assert.Equal(t, StateText, h.state())
	h.say("Kutubxonani kechroq yopish kerak")
	require.Len(t, h.fb.submitted, 1)
	assert.Equal(t, localstore.Suggestion, h.fb.submitted[0].Type)
	assert.Empty(t, h.fb.submitted[0].Category)
}

func TestSubmissionFailureStaysOnText(t *testing.T) {
	h := newHarness(t)
	h.fb.known["998901234567"] = &backend.User{FullName: "Ali Valiyev", Language: "uz"}
	h.say("/start")
	h.say("1")

	h.fb.submitErr = &backend.Error{Kind: backend.KindValidation}
	assert.Equal(t, T(Uzbek).Errors[ErrValidation], h.say("Kutubxonani kechroq yopish kerak"))
	assert.Equal(t, StateText, h.state())

	assert.Equal(t, T(Uzbek).TextSpam, h.say(strings.Repeat("a", 30)))
}

func TestOfflineSubmission(t *testing.T) {
	h := newHarness(t)
	h.fb.known["998901234567"] = &backend.User{FullName: "Ali Valiyev"}
	h.fb.buffered = true
	h.say("/start")
	h.say("1")
	reply := h.say("Kutubxonani kechroq yopish kerak")
	assert.True(t, strings.HasPrefix(reply, T(Uzbek).SubmittedOffline("taklif", "USAT-123456")))
}

func TestTicketList(t *testing.T) {
	h := newHarness(t)
	h.fb.known["998901234567"] = &backend.User{FullName: "Ali Valiyev"}
	h.say("/start")

	assert.Contains(t, h.say("3"), T(Uzbek).NoTickets)

	h.fb.tickets = []backend.Message{
		{TicketType: localstore.Complaint, Text: "Yotoqxonada issiq suv yo'q", Status: localstore.OfflinePending},
	}
	reply := h.say("3")
	assert.Contains(t, reply, "1. [shikoyat] Yotoqxonada issiq suv yo'q (yuborilishi kutilmoqda)")
}

func TestMenuAndHelpCommands(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, T(Uzbek).Help, h.say("/help"))
	assert.Equal(t, ChooseLanguage, h.say("/menu"), "unregistered chats start over")

	h.register()
	h.say("2")
	assert.Equal(t, T(Uzbek).Menu, h.say("/MENU"))
	assert.Equal(t, StateIdle, h.state())
}

func TestStartConsumesBus(t *testing.T) {
	h := newHarness(t)
	b := bus.New()
	d := NewDialog(h.fb, h.out, h.sessions, Options{Bus: b})
	d.Start(context.Background())
	defer d.Stop()

	b.Emit(bus.KindChatInbound, bus.InboundMessage{ChatID: chat, Text: "/start"})
	require.Eventually(t, func() bool { return h.out.last() == ChooseLanguage }, time.Second, 5*time.Millisecond)
}

func TestOwnerID(t *testing.T) {
	assert.Equal(t, localstore.ID("998901234567"), OwnerID("998901234567@s.whatsapp.net"))
	assert.Equal(t, localstore.ID("42"), OwnerID("42"))
}
