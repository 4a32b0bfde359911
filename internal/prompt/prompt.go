// Package prompt renders persona, knowledge, history and the new message
// into a structured prompt. Everything here is pure formatting.
package prompt

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
)

// Role is the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Turn is one message of chat history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the assembled input for a generation model.
type Prompt struct {
	// System holds the persona and the knowledge block.
	System string `json:"system"`

	// Messages is the history, oldest first, ending with the user message.
	Messages []Turn `json:"messages"`
}

const defaultPersona = "You are a helpful assistant."

const knowledgeHeader = "Use the following knowledge when it is relevant to the user's message. " +
	"If it does not help, answer from the conversation alone."

// Assemble builds a Prompt. history must already be bounded by the caller;
// it is never truncated here.
func Assemble(persona string, knowledge []retrieval.KnowledgeMatch, history []Turn, message string) Prompt {
	var system strings.Builder
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = defaultPersona
	}
	system.WriteString(persona)

	if len(knowledge) > 0 {
		system.WriteString("\n\n")
		system.WriteString(knowledgeHeader)
		system.WriteString("\n\n<knowledge>")
		for _, k := range knowledge {
			system.WriteString("\n")
			if name := strings.TrimSpace(k.SourceName); name != "" {
				fmt.Fprintf(&system, "## %s\n", name)
			}
			system.WriteString(strings.TrimSpace(k.Content))
			system.WriteString("\n")
		}
		system.WriteString("</knowledge>")
	}

	messages := make([]Turn, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Turn{Role: RoleUser, Content: message})

	return Prompt{System: system.String(), Messages: messages}
}

// Render flattens the prompt to text, for diagnostics and single-prompt models.
func (p Prompt) Render() string {
	var b strings.Builder
	b.WriteString(p.System)
	b.WriteString("\n")
	for _, m := range p.Messages {
		fmt.Fprintf(&b, "\n%s: %s", roleLabel(m.Role), m.Content)
	}
	b.WriteString("\nAssistant:")
	return b.String()
}

func roleLabel(r Role) string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// Window returns the most recent n turns of history. n <= 0 returns all.
func Window(history []Turn, n int) []Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
