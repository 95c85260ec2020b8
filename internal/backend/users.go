package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/localstore"
)

// User is the backend's user record.
type User struct {
	UserID       localstore.ID `json:"userId,omitempty"`
	ChatID       localstore.ID `json:"chatId"`
	FullName     string        `json:"fullName"`
	Phone        string        `json:"phone"`
	Course       string        `json:"course"`
	Direction    string        `json:"direction"`
	Language     string        `json:"language,omitempty"`
	LastActivity *time.Time    `json:"lastActivity,omitempty"`
}

// UserFromRecord drops the local sync bookkeeping from a stored user.
func UserFromRecord(u localstore.User) User {
	return User{
		UserID:       u.UserID,
		ChatID:       u.ChatID,
		FullName:     u.FullName,
		Phone:        u.Phone,
		Course:       u.Course,
		Direction:    u.Direction,
		Language:     u.Language,
		LastActivity: u.LastActivity,
	}
}

func (u User) matches(id string) bool {
	return (u.ChatID != "" && string(u.ChatID) == id) || (u.UserID != "" && string(u.UserID) == id)
}

// envelope is the backend's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decodeEnvelope(body []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, false
	}
	return env, env.Success && len(env.Data) > 0 && string(env.Data) != "null"
}

// usersIn extracts user records from an envelope's data, which may be a user,
// {"user": ...}, {"users": [...]} or an array.
func usersIn(data json.RawMessage) []User {
	var list []User
	if json.Unmarshal(data, &list) == nil {
		return list
	}
	var wrapped struct {
		User  *User  `json:"user"`
		Users []User `json:"users"`
	}
	if json.Unmarshal(data, &wrapped) == nil {
		if wrapped.Users != nil {
			return wrapped.Users
		}
		if wrapped.User != nil {
			return []User{*wrapped.User}
		}
	}
	var single User
	if json.Unmarshal(data, &single) == nil {
		return []User{single}
	}
	return nil
}

func findUser(body []byte, id string) *User {
	env, ok := decodeEnvelope(body)
	if !ok {
		return nil
	}
	for _, u := range usersIn(env.Data) {
		if u.matches(id) {
			return &u
		}
	}
	return nil
}

// CheckUserExists looks a user up by chat id. A user the backend does not know
// is reported as (nil, nil).
func (c *Client) CheckUserExists(ctx context.Context, id string) (*User, error) {
	const op = "check_user"
	resp, err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/users/" + url.PathEscape(id)})
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		// No per-user route, or no such user: ask the listing.
		resp, err = c.do(ctx, request{
			op:     op,
			method: http.MethodGet,
			path:   "/users",
			query:  url.Values{"chatId": {id}},
		})
		if err != nil {
			return nil, err
		}
		if resp.status == http.StatusNotFound {
			return nil, nil
		}
	}
	if !resp.ok() {
		return nil, statusError(op, KindRequest, resp)
	}
	return findUser(resp.body, id), nil
}

var requiredUserFields = []struct {
	name  string
	value func(User) string
}{
	{"chatId", func(u User) string { return string(u.ChatID) }},
	{"fullName", func(u User) string { return u.FullName }},
	{"phone", func(u User) string { return u.Phone }},
	{"course", func(u User) string { return u.Course }},
	{"direction", func(u User) string { return u.Direction }},
}

// RegisterUser creates the user on the backend. A 409 is KindDuplicate.
func (c *Client) RegisterUser(ctx context.Context, u User) (*User, error) {
	const op = "register_user"
	var missing []string
	for _, f := range requiredUserFields {
		if f.value(u) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, validationError(op, missing, "missing required fields")
	}

	resp, err := c.do(ctx, request{op: op, method: http.MethodPost, path: "/users", body: u})
	if err != nil {
		return nil, err
	}
	switch {
	case resp.ok():
	case resp.status == http.StatusConflict:
		return nil, statusError(op, KindDuplicate, resp)
	case resp.status == http.StatusBadRequest:
		e := statusError(op, KindValidation, resp)
		if e.Message == "" {
			e.Message = "invalid user data"
		}
		return nil, e
	default:
		return nil, statusError(op, KindRequest, resp)
	}

	c.logger.Info("user registered", zap.String("chat_id", string(u.ChatID)))
	if created := findUser(resp.body, string(u.ChatID)); created != nil {
		return created, nil
	}
	return &u, nil
}

// UpdateUserActivity stamps the user's last activity on the backend. It never
// fails: unknown users and a missing update route are skipped, and other
// errors are only logged.
func (c *Client) UpdateUserActivity(ctx context.Context, id string) {
	const op = "update_activity"
	log := c.logger.With(zap.String("chat_id", id))

	u, err := c.CheckUserExists(ctx, id)
	if err != nil {
		log.Debug("activity update skipped", zap.Error(err))
		return
	}
	if u == nil {
		log.Debug("activity update skipped: unknown user")
		return
	}
	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPut,
		path:   "/users/" + url.PathEscape(id),
		body:   map[string]time.Time{"lastActivity": time.Now().UTC()},
	})
	switch {
	case err != nil:
		log.Debug("activity update failed", zap.Error(err))
	case resp.status == http.StatusNotFound:
		log.Debug("activity update route not available")
	case !resp.ok():
		log.Debug("activity update rejected", zap.Int("status", resp.status))
	}
}
