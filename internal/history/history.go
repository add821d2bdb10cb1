// Package history holds the conversation sent to the completion API and its
// on-disk copy.
package history

import (
	"errors"
	"fmt"
	"strings"
)

// Role enumerates message authors.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrInvalid reports a message sequence that breaks the history invariants.
var ErrInvalid = errors.New("invalid history")

// History is an ordered conversation. A system message, when present, is the
// first entry and there is only one. It is not safe for concurrent use; the
// engine goroutine owns it.
type History struct {
	msgs []Message
}

// FromMessages validates msgs and wraps a copy of them.
func FromMessages(msgs []Message) (*History, error) {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w: message %d has role %q", ErrInvalid, i, m.Role)
		}
		if m.Role == RoleSystem && i != 0 {
			return nil, fmt.Errorf("%w: system message at index %d", ErrInvalid, i)
		}
	}
	return &History{msgs: append([]Message(nil), msgs...)}, nil
}

// SetSystemPrompt discards the conversation and starts over from a single system message.
func (h *History) SetSystemPrompt(text string) {
	h.msgs = []Message{{Role: RoleSystem, Content: text}}
}

// Clear keeps only the system message, if any.
func (h *History) Clear() {
	if len(h.msgs) > 0 && h.msgs[0].Role == RoleSystem {
		h.msgs = h.msgs[:1:1]
		return
	}
	h.msgs = nil
}

// Append adds a user or assistant message.
func (h *History) Append(m Message) error {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("%w: cannot append role %q", ErrInvalid, m.Role)
	}
	h.msgs = append(h.msgs, m)
	return nil
}

// Messages returns a copy of the conversation.
func (h *History) Messages() []Message {
	return append([]Message(nil), h.msgs...)
}

func (h *History) Len() int { return len(h.msgs) }

// SystemPrompt returns the leading system message content.
func (h *History) SystemPrompt() (string, bool) {
	if len(h.msgs) > 0 && h.msgs[0].Role == RoleSystem {
		return h.msgs[0].Content, true
	}
	return "", false
}

// Transcript renders the non-system messages one per line as "role: content".
func (h *History) Transcript() string {
	var b strings.Builder
	for _, m := range h.msgs {
		if m.Role == RoleSystem {
			continue
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
