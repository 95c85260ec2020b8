package status

import (
	"testing"

	"github.com/usat-ai-lab/taklif/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Online},
		{Booting, Offline},
		{Booting, Error},
		{Online, Syncing},
		{Offline, Syncing},
		{Syncing, Online},
		{Syncing, Offline},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Syncing); err == nil {
		t.Error("Transition(BOOTING -> SYNCING) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Offline); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindDaemonStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindDaemonStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Offline {
		t.Errorf("change = %v -> %v, want BOOTING -> OFFLINE", change.From, change.To)
	}
}

// TestOfflineRecoveryCycle walks a daemon that starts without the backend:
// BOOTING → OFFLINE → SYNCING → ONLINE
func TestOfflineRecoveryCycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Offline, Syncing, Online}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Online {
		t.Errorf("final state = %s, want ONLINE", m.Current())
	}
}

func TestSetReachable(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.SetReachable(true); err != nil {
		t.Fatal(err)
	}
	// Same state again: no transition, no event.
	if err := m.SetReachable(true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetReachable(false); err != nil {
		t.Fatal(err)
	}
	if m.Current() != Offline {
		t.Errorf("state = %s, want OFFLINE", m.Current())
	}
	if len(ch) != 2 {
		t.Errorf("got %d events, want 2", len(ch))
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting: {},
		Online:  {Online},
		Offline: {Offline},
		Syncing: {Online, Syncing},
		Error:   {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
