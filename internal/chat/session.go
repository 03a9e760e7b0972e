package chat

import (
	"sync"

	"github.com/docuchat/docuchat-core/internal/domain"
)

// DefaultMaxTurns bounds how much history a session feeds back into the
// chain. Two entries make one exchange.
const DefaultMaxTurns = 20

// Session accumulates the chat history for one conversation. Turns are
// committed only after an answer fully succeeds, so a failed generation
// leaves the history exactly as it was.
type Session struct {
	mu       sync.Mutex
	turns    []domain.ChatTurn
	maxTurns int
}

func NewSession() *Session {
	return &Session{maxTurns: DefaultMaxTurns}
}

// History returns a copy of the committed turns, oldest first.
func (s *Session) History() []domain.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// CommitTurn appends a completed exchange.
func (s *Session) CommitTurn(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns,
		domain.ChatTurn{Role: domain.RoleHuman, Content: question},
		domain.ChatTurn{Role: domain.RoleAI, Content: answer},
	)
	if len(s.turns) > s.maxTurns {
		s.turns = s.turns[len(s.turns)-s.maxTurns:]
	}
}

// Clear drops the history, starting the conversation over.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}
