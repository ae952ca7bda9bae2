// Package chat implements the per-connection session layer: bounded
// in-memory history, the connection registry, and the turn engine that
// relays user messages to the completion provider.
package chat

import (
	"github.com/ashureev/fitbot/internal/domain"
	"github.com/ashureev/fitbot/internal/llm"
)

// HistoryWindow caps the in-memory conversation window. Older turns are
// dropped first; the durable store keeps the full history.
const HistoryWindow = 20

// Session is the per-connection mutable state: identity, persistence mode
// and the bounded in-memory history window. It is exclusively owned by one
// live connection and never shared, so it needs no locking.
type Session struct {
	ClientID      string
	Username      string
	Persist       bool
	Authenticated bool

	window []domain.Turn
}

// NewSession creates session state for a fresh connection.
func NewSession(clientID string, persist bool) *Session {
	return &Session{ClientID: clientID, Persist: persist}
}

// Remember appends a turn and truncates the window to the last HistoryWindow
// entries.
func (s *Session) Remember(role, content string) {
	s.window = append(s.window, domain.Turn{Role: role, Content: content})
	if len(s.window) > HistoryWindow {
		s.window = s.window[len(s.window)-HistoryWindow:]
	}
}

// Reset clears the in-memory window.
func (s *Session) Reset() {
	s.window = s.window[:0]
}

// Seed replaces the window with restored history, keeping only the newest
// HistoryWindow turns.
func (s *Session) Seed(turns []domain.Turn) {
	if len(turns) > HistoryWindow {
		turns = turns[len(turns)-HistoryWindow:]
	}
	s.window = append(s.window[:0], turns...)
}

// Window returns the current in-memory history, oldest first.
func (s *Session) Window() []domain.Turn {
	return s.window
}

// Prompt renders the window as provider messages behind the system prompt.
func (s *Session) Prompt(systemPrompt string) []llm.Message {
	msgs := make([]llm.Message, 0, len(s.window)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	for _, t := range s.window {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}
