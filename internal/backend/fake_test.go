package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/usat-ai-lab/taklif/internal/localstore"
)

// fakeBackend serves both the domain and auth routes. Handlers can be replaced
// per test through the override fields.
type fakeBackend struct {
	mu       sync.Mutex
	token    string
	users    map[string]User
	messages []Message

	refreshCalls  atomic.Int32
	loginCalls    atomic.Int32
	messagePosts  atomic.Int32
	activityPuts  atomic.Int32
	userGetCalls  atomic.Int32
	unauthorized  atomic.Int32
	issued        string
	refreshDelay  time.Duration
	refreshStatus int
	loginBody     string
	loginStatus   int

	health   http.HandlerFunc
	root     http.HandlerFunc
	userByID http.HandlerFunc
	postUser http.HandlerFunc
	postMsg  http.HandlerFunc
	putUser  http.HandlerFunc
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	f := &fakeBackend{
		token: "fresh",
		users: make(map[string]User),
	}
	r := chi.NewRouter()
	r.Post("/auth/login", f.handleLogin)
	r.Post("/auth/refresh", f.handleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(f.requireToken)
		r.Get("/health", f.or(func() http.HandlerFunc { return f.health }, ok))
		r.Get("/", f.or(func() http.HandlerFunc { return f.root }, ok))
		r.Get("/users/{id}", f.or(func() http.HandlerFunc { return f.userByID }, f.handleUserByID))
		r.Get("/users", f.handleListUsers)
		r.Post("/users", f.or(func() http.HandlerFunc { return f.postUser }, f.handlePostUser))
		r.Put("/users/{id}", f.or(func() http.HandlerFunc { return f.putUser }, f.handlePutUser))
		r.Post("/messages", f.or(func() http.HandlerFunc { return f.postMsg }, f.handlePostMessage))
		r.Get("/messages", f.handleListMessages)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBackend) or(override func() http.HandlerFunc, def http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		h := override()
		f.mu.Unlock()
		if h == nil {
			h = def
		}
		h(w, r)
	}
}

func ok(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeBackend) setToken(tok string) {
	f.mu.Lock()
	f.token = tok
	f.mu.Unlock()
}

func (f *fakeBackend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		want := "Bearer " + f.token
		f.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			f.unauthorized.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid or expired token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeBackend) handleLogin(w http.ResponseWriter, _ *http.Request) {
	f.loginCalls.Add(1)
	f.mu.Lock()
	status, body, tok := f.loginStatus, f.loginBody, f.token
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	if body == "" {
		body = `{"access":"` + tok + `","refresh":"r2"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	delay, status, tok := f.refreshDelay, f.refreshStatus, f.token
	if f.issued != "" {
		tok = f.issued
	}
	f.mu.Unlock()
	time.Sleep(delay)
	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]string{"detail": "refresh token expired"})
		return
	}
	var body struct{ Refresh string }
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "missing refresh"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": tok})
}

func (f *fakeBackend) handleUserByID(w http.ResponseWriter, r *http.Request) {
	f.userGetCalls.Add(1)
	id := chi.URLParam(r, "id")
	f.mu.Lock()
	u, found := f.users[id]
	f.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": u}})
}

func (f *fakeBackend) handleListUsers(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	f.mu.Lock()
	var out []User
	for _, u := range f.users {
		if chatID == "" || string(u.ChatID) == chatID {
			out = append(out, u)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"users": out}})
}

func (f *fakeBackend) handlePostUser(w http.ResponseWriter, r *http.Request) {
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[string(u.ChatID)]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "User already exists"})
		return
	}
	f.users[string(u.ChatID)] = u
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": u})
}

func (f *fakeBackend) handlePutUser(w http.ResponseWriter, r *http.Request) {
	f.activityPuts.Add(1)
	id := chi.URLParam(r, "id")
	var body struct {
		LastActivity time.Time `json:"lastActivity"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	u, found := f.users[id]
	if !found {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	u.LastActivity = &body.LastActivity
	f.users[id] = u
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (f *fakeBackend) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	f.messagePosts.Add(1)
	var m Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	f.messages = append(f.messages, m)
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (f *fakeBackend) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	f.mu.Lock()
	var out []Message
	for _, m := range f.messages {
		if string(m.UserID) == userID {
			out = append(out, m)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

func (f *fakeBackend) addUser(u User) {
	f.mu.Lock()
	f.users[string(u.ChatID)] = u
	f.mu.Unlock()
}

// memTokens is an in-memory TokenStore.
type memTokens struct {
	mu     sync.Mutex
	tokens localstore.Tokens
	saves  int
}

func (m *memTokens) ReadTokens() localstore.Tokens {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

func (m *memTokens) SaveTokens(_ context.Context, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = localstore.Tokens{Access: access, Refresh: refresh}
	m.saves++
	return nil
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate ...func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:       srv.URL,
		AuthBaseURL:   strings.TrimSuffix(srv.URL, "/"),
		Timeout:       2 * time.Second,
		AuthTimeout:   2 * time.Second,
		HealthTimeout: time.Second,
		Tokens:        &memTokens{},
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}

func testUser(id string) User {
	return User{
		UserID:    localstore.ID(id),
		ChatID:    localstore.ID(id),
		FullName:  "Ali Valiyev",
		Phone:     "+998901234567",
		Course:    "2-kurs",
		Direction: "Dasturiy injiniring",
		Language:  "uz",
	}
}
