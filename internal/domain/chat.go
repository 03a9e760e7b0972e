package domain

// ChatRole is the speaker of one turn. The UI layer appends a human turn and
// the corresponding AI turn, in that order, after an answer stream is fully
// drained.
type ChatRole string

const (
	RoleHuman ChatRole = "human"
	RoleAI    ChatRole = "ai"
)

type ChatTurn struct {
	Role    ChatRole
	Content string
}
