// Package chat defines the transport-neutral shapes that flow between the
// messaging transport and the bot's handlers.
package chat

import (
	"context"
	"strings"
)

// Request is one inbound chat message, either a command or plain text.
type Request struct {
	// Caller is the sender's identity, normalized with NormalizeIdentity.
	Caller string
	// ChatID identifies the conversation the message arrived in.
	ChatID string
	// CallerTag is a human-readable description of the sender, used in
	// owner alerts.
	CallerTag string
	// Command is the command name without the leading slash, or "" for
	// plain text.
	Command string
	// Args are the whitespace-separated command arguments.
	Args []string
	// Text is the full message body.
	Text string
	// Conversation replies into the chat the request came from.
	Conversation Conversation
}

// IsCommand reports whether the request carries a slash command.
func (r *Request) IsCommand() bool { return r.Command != "" }

// Conversation sends messages into one chat.
type Conversation interface {
	Send(ctx context.Context, text string) error
	SendMarkdown(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, name string, data []byte) error
}

// Handler processes one request. Failures are reported to the caller through
// req.Conversation, never returned.
type Handler func(ctx context.Context, req *Request)

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so that the first one is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Sender delivers text to an arbitrary chat by ID.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// NormalizeIdentity canonicalizes an identity string for comparison.
func NormalizeIdentity(id string) string {
	return strings.TrimSpace(id)
}
