// ABOUTME: Observable session state and its lifecycle phases
// ABOUTME: Snapshots are deep copies safe to hand to other goroutines

package session

import (
	"github.com/2389/coven-chat/internal/chat"
)

// Phase is the session lifecycle stage.
type Phase string

const (
	PhaseLoggedOut      Phase = "logged_out"
	PhaseAuthenticating Phase = "authenticating"
	PhaseBootstrapping  Phase = "bootstrapping"
	PhaseLive           Phase = "live"
)

// State is everything the presentation layer can observe.
type State struct {
	Phase            Phase
	Session          *chat.Session
	Users            map[string]chat.User
	Conversations    map[string]*chat.Conversation
	OpenConversation string
	Epoch            uint64
}

// LoggedIn reports whether a session is installed.
func (s State) LoggedIn() bool {
	return s.Session != nil
}

// Conversation returns the conversation with partner, if any.
func (s State) Conversation(partner string) (*chat.Conversation, bool) {
	c, ok := s.Conversations[partner]
	return c, ok
}

func (s State) clone() State {
	out := State{
		Phase:            s.Phase,
		OpenConversation: s.OpenConversation,
		Epoch:            s.Epoch,
		Users:            make(map[string]chat.User, len(s.Users)),
		Conversations:    make(map[string]*chat.Conversation, len(s.Conversations)),
	}
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	for id, u := range s.Users {
		out.Users[id] = u
	}
	for id, c := range s.Conversations {
		out.Conversations[id] = c.Clone()
	}
	return out
}

func emptyState(epoch uint64) State {
	return State{
		Phase:         PhaseLoggedOut,
		Users:         map[string]chat.User{},
		Conversations: map[string]*chat.Conversation{},
		Epoch:         epoch,
	}
}
