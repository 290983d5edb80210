// Package auth gates every chat entry point on the single owner identity.
package auth

import (
	"context"

	"go.uber.org/zap"

	"raspibot/internal/chat"
)

const (
	rejectionReply = "❌ UNAUTHORIZED USER ❌"
	alertPrefix    = "UNAUTHORISED QUERY: "
)

// OwnerNotifier alerts the owner out of band.
type OwnerNotifier interface {
	Notify(ctx context.Context, text string)
}

// Gate admits only requests whose caller matches the owner.
type Gate struct {
	owner    string
	notifier OwnerNotifier
	log      *zap.SugaredLogger
}

// NewGate creates a gate for owner.
func NewGate(owner string, notifier OwnerNotifier, log *zap.SugaredLogger) *Gate {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gate{
		owner:    chat.NormalizeIdentity(owner),
		notifier: notifier,
		log:      log,
	}
}

// Authorized reports whether caller is the owner.
func (g *Gate) Authorized(caller string) bool {
	return g.owner != "" && chat.NormalizeIdentity(caller) == g.owner
}

// Middleware returns the gate as a chat.Middleware.
func (g *Gate) Middleware() chat.Middleware { return g.Wrap }

// Wrap invokes next only for the owner. Anyone else gets the fixed rejection
// reply and triggers one owner alert; next is never called for them.
func (g *Gate) Wrap(next chat.Handler) chat.Handler {
	return func(ctx context.Context, req *chat.Request) {
		if g.Authorized(req.Caller) {
			next(ctx, req)
			return
		}

		g.log.Warnw("unauthorized request", "caller", req.Caller, "chat", req.ChatID, "command", req.Command)

		tag := req.CallerTag
		if tag == "" {
			tag = "<unknown>"
		}
		g.notifier.Notify(ctx, alertPrefix+tag)

		if req.Conversation == nil {
			return
		}
		if err := req.Conversation.Send(ctx, rejectionReply); err != nil {
			g.log.Warnw("failed to reply to unauthorized caller", "caller", req.Caller, "error", err)
		}
	}
}
