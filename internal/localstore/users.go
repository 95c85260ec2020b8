package localstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReadUsers returns all stored users. It never fails; an unreadable file reads as empty.
func (s *Store) ReadUsers() []User {
	var users []User
	if !s.readJSON(usersFile, &users) {
		return []User{}
	}
	if users == nil {
		users = []User{}
	}
	return users
}

// PendingUsers returns users still waiting to be synced.
func (s *Store) PendingUsers() []User {
	var pending []User
	for _, u := range s.ReadUsers() {
		if u.NeedsSync() {
			pending = append(pending, u)
		}
	}
	return pending
}

// FindUser returns the user with the given id, comparing ids as strings.
func (s *Store) FindUser(id ID) (User, bool) {
	for _, u := range s.ReadUsers() {
		if u.Key() == id || (u.UserID != "" && u.UserID == id) {
			return u, true
		}
	}
	return User{}, false
}

// SaveUser inserts u, or replaces the stored user with the same id.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	return s.UpdateUsers(ctx, func(users []User) ([]User, bool) {
		for i := range users {
			if users[i].Key() == u.Key() {
				users[i] = u
				return users, true
			}
		}
		return append(users, u), true
	})
}

// UpdateUserActivity stamps lastActivity on one user. It reports false, with no
// error, when the id is unknown.
func (s *Store) UpdateUserActivity(ctx context.Context, id ID) (bool, error) {
	found := false
	err := s.UpdateUsers(ctx, func(users []User) ([]User, bool) {
		for i := range users {
			if users[i].Key() == id {
				now := s.now().UTC()
				users[i].LastActivity = &now
				found = true
				return users, true
			}
		}
		return users, false
	})
	return found, err
}

// UpdateUsers applies fn to the stored users under the write lock. fn reports
// whether it changed anything; nothing is written otherwise.
func (s *Store) UpdateUsers(ctx context.Context, fn func([]User) ([]User, bool)) error {
	return s.update(ctx, func() error {
		users, changed := fn(s.ReadUsers())
		if !changed {
			return nil
		}
		if err := ValidateUsers(users); err != nil {
			s.logger.Error("refusing to write users", zap.Error(err))
			return err
		}
		return s.writeJSON(usersFile, users)
	})
}

// ValidateUsers checks every user carries an id and a name.
func ValidateUsers(users []User) error {
	for i, u := range users {
		if u.Key() == "" || u.FullName == "" {
			return fmt.Errorf("%w: user %d needs chatId and fullName", ErrInvalidRecords, i)
		}
	}
	return nil
}
