package console

import (
	"sort"

	"github.com/gdamore/tcell/v2"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds the console keybindings.
type Registry struct {
	actions map[string]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Add registers a binding under name, replacing any previous one.
func (r *Registry) Add(name string, action *Action) {
	r.actions[name] = action
}

// Hints returns the binding descriptions in a stable order.
func (r *Registry) Hints() []string {
	hints := make([]string, 0, len(r.actions))
	for _, a := range r.actions {
		if a.Description != "" {
			hints = append(hints, a.Description)
		}
	}
	sort.Strings(hints)
	return hints
}

// HandleEvent dispatches a key event. Returns true if a handler matched.
func (r *Registry) HandleEvent(ev *tcell.EventKey) bool {
	for _, a := range r.actions {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
