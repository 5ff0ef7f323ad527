package chat

import (
	"fmt"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
)

var ErrEmptyMessage = fmt.Errorf("chat: message is required: %w", apperr.ErrValidation)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Trim keeps the leading system message (if any) plus the newest max messages.
func Trim(history []Message, max int) []Message {
	if max <= 0 || len(history) == 0 {
		return history
	}
	var head []Message
	rest := history
	if history[0].Role == RoleSystem {
		head, rest = history[:1], history[1:]
	}
	if len(rest) > max {
		rest = rest[len(rest)-max:]
	}
	out := make([]Message, 0, len(head)+len(rest))
	out = append(out, head...)
	return append(out, rest...)
}
