// Package llm talks to the language model that interprets free-form chat text.
package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyReply = errors.New("llm returned no choices")

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer sends a conversation to a model and returns the raw text of its reply.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
