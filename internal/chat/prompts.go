package chat

import (
	"strings"

	"github.com/docuchat/docuchat-core/internal/domain"
)

const condenseSystemPrompt = `Given a chat history and the latest user question ` +
	`which might reference context in the chat history, formulate a standalone ` +
	`question which can be understood without the chat history. Do NOT answer ` +
	`the question, just reformulate it if needed and otherwise return it as is.`

const answerSystemPrompt = `You are an assistant for question-answering tasks over ` +
	`the user's documents. Use the following pieces of retrieved context to answer ` +
	`the question. If you don't know the answer based on the context, say that you ` +
	`don't know. Keep the answer concise.

Context:
%s`

// renderHistory flattens prior turns into the prompt form the model sees.
func renderHistory(history []domain.ChatTurn) string {
	var sb strings.Builder
	for _, t := range history {
		switch t.Role {
		case domain.RoleHuman:
			sb.WriteString("Human: ")
		case domain.RoleAI:
			sb.WriteString("AI: ")
		default:
			continue
		}
		sb.WriteString(strings.TrimSpace(t.Content))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderContext joins retrieved chunks, labeling each with its source so
// the model can attribute answers.
func renderContext(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return "(no documents matched the question)"
	}
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[" + c.Source + "]\n")
		sb.WriteString(strings.TrimSpace(c.Text))
	}
	return sb.String()
}
