package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usat-ai-lab/taklif/internal/lock"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func testUser(id string) User {
	return User{
		UserID:    ID(id),
		ChatID:    ID(id),
		FullName:  "Ali Valiyev",
		Phone:     "+998901234567",
		Course:    "2-kurs",
		Direction: "Dasturiy injiniring",
		Language:  "uz",
	}
}

func TestOpenSeedsFiles(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{usersFile, messagesFile, tokensFile} {
		_, err := os.Stat(filepath.Join(s.Dir(), name))
		assert.NoError(t, err, name)
	}
	assert.Empty(t, s.ReadUsers())
	assert.Empty(t, s.ReadMessages())
	assert.Equal(t, Tokens{}, s.ReadTokens())
}

func TestSaveUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := testUser("123")
	seen := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	u.LastActivity = &seen
	require.NoError(t, s.SaveUser(ctx, u))

	got, ok := s.FindUser("123")
	require.True(t, ok)
	if diff := cmp.Diff(u, got); diff != "" {
		t.Errorf("FindUser() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]User{u}, s.ReadUsers()); diff != "" {
		t.Errorf("ReadUsers() mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveUserUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUser(ctx, testUser("1")))
	require.NoError(t, s.SaveUser(ctx, testUser("2")))

	updated := testUser("1")
	updated.Course = "3-kurs"
	require.NoError(t, s.SaveUser(ctx, updated))

	users := s.ReadUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "3-kurs", users[0].Course)
	assert.Equal(t, ID("2"), users[1].ChatID)
}

func TestConcurrentSaveUserKeepsAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.SaveUser(ctx, testUser(fmt.Sprintf("user-%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), usersFile))
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw), "users.json must stay valid JSON")
	assert.Len(t, raw, n)

	for i := 0; i < n; i++ {
		_, ok := s.FindUser(ID(fmt.Sprintf("user-%d", i)))
		assert.True(t, ok, "user-%d lost", i)
	}
}

func TestNumericIDsMatchAsStrings(t *testing.T) {
	s := openTestStore(t)
	raw := `[{"chatId": 123, "userId": 123, "fullName": "Ali Valiyev", "synced": false}]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), usersFile), []byte(raw), 0600))

	u, ok := s.FindUser("123")
	require.True(t, ok)
	assert.Equal(t, ID("123"), u.ChatID)

	// Rewritten ids come back as strings.
	require.NoError(t, s.SaveUser(context.Background(), u))
	data, err := os.ReadFile(filepath.Join(s.Dir(), usersFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chatId": "123"`)
}

func TestCorruptFileReadsEmpty(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), messagesFile), []byte("{not json"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), tokensFile), []byte("]"), 0600))

	assert.Empty(t, s.ReadMessages())
	assert.Equal(t, Tokens{}, s.ReadTokens())

	require.NoError(t, os.Remove(filepath.Join(s.Dir(), usersFile)))
	assert.Empty(t, s.ReadUsers())
}

func TestValidationRejectsWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, testUser("1")))

	bad := testUser("2")
	bad.FullName = ""
	err := s.SaveUser(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidRecords)
	assert.Len(t, s.ReadUsers(), 1)

	err = s.SaveMessage(ctx, Message{MessageID: "m1"})
	assert.ErrorIs(t, err, ErrInvalidRecords)
	assert.Empty(t, s.ReadMessages())
}

func TestBackupRetention(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Open(Options{
		Dir:             dir,
		BackupRetention: 3,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, s.SaveUser(ctx, testUser(fmt.Sprintf("u%d", i))))
	}
	require.NoError(t, s.SaveTokens(ctx, "a", "r"))

	backups, err := s.Backups(usersFile)
	require.NoError(t, err)
	assert.Len(t, backups, 3)

	// Newest backup holds the state before the last write: five users.
	data, err := os.ReadFile(filepath.Join(dir, backupDir, backups[0]))
	require.NoError(t, err)
	var prev []User
	require.NoError(t, json.Unmarshal(data, &prev))
	assert.Len(t, prev, 5)

	tokenBackups, err := s.Backups(tokensFile)
	require.NoError(t, err)
	assert.Len(t, tokenBackups, 1)
}

func TestUpdateUserActivity(t *testing.T) {
	fixed := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s, err := Open(Options{Dir: t.TempDir(), Now: func() time.Time { return fixed }})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, testUser("7")))

	ok, err := s.UpdateUserActivity(ctx, "7")
	require.NoError(t, err)
	assert.True(t, ok)
	u, _ := s.FindUser("7")
	require.NotNil(t, u.LastActivity)
	assert.True(t, u.LastActivity.Equal(fixed))

	ok, err = s.UpdateUserActivity(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTokens(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTokens(context.Background(), "acc", "ref"))

	tok := s.ReadTokens()
	assert.Equal(t, "acc", tok.Access)
	assert.Equal(t, "ref", tok.Refresh)
	assert.NotNil(t, tok.UpdatedAt)
}

func TestPendingMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	msgs := []Message{
		{MessageID: "a", UserID: "1", Status: OfflinePending},
		{MessageID: "b", UserID: "1", Status: Pending},
		{MessageID: "c", UserID: "1", Status: Synced, Synced: true},
		{MessageID: "d", UserID: "1", Status: SyncFailed},
		{MessageID: "e", UserID: "1", Status: Synced},
	}
	for _, m := range msgs {
		require.NoError(t, s.SaveMessage(ctx, m))
	}

	var ids []string
	for _, m := range s.PendingMessages() {
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []string{"a", "b", "e"}, ids)
}

func TestPendingUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	users := []User{
		{ChatID: "1", FullName: "Ali Valiyev"},
		{ChatID: "2", FullName: "Vali Aliyev", Synced: true, SyncStatus: Synced},
		{ChatID: "3", FullName: "Olim Karimov", SyncStatus: SyncFailed, SyncAttempts: 5},
	}
	for _, u := range users {
		require.NoError(t, s.SaveUser(ctx, u))
	}

	pending := s.PendingUsers()
	require.Len(t, pending, 1)
	assert.Equal(t, ID("1"), pending[0].ChatID)
}

func TestWriteGivesUpWhenLockHeld(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, Lock: lock.Options{Attempts: 2, Delay: time.Millisecond}})
	require.NoError(t, err)

	held, err := lock.AcquireFile(context.Background(), filepath.Join(dir, lockFile), lock.DefaultOptions)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	err = s.SaveUser(context.Background(), testUser("1"))
	var lockErr *lock.LockHeldError
	assert.True(t, errors.As(err, &lockErr), "got %v", err)
	assert.Empty(t, s.ReadUsers())
}

func TestNewMessageIDUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID("42", now)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{OfflinePending, Synced, true},
		{OfflinePending, SyncFailed, true},
		{Pending, Synced, true},
		{Pending, Pending, true},
		{Pending, OfflinePending, false},
		{Synced, Pending, false},
		{SyncFailed, Pending, false},
		{SyncFailed, SyncFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}
