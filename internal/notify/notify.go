// Package notify delivers out-of-band messages to the bot owner.
package notify

import (
	"context"

	"go.uber.org/zap"

	"raspibot/internal/chat"
)

// Notifier sends plain text to the fixed owner identity. Delivery failures
// are logged and otherwise dropped.
type Notifier struct {
	sender chat.Sender
	owner  string
	log    *zap.SugaredLogger
}

// New creates a Notifier for owner.
func New(sender chat.Sender, owner string, log *zap.SugaredLogger) *Notifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Notifier{sender: sender, owner: owner, log: log}
}

// Notify sends text to the owner.
func (n *Notifier) Notify(ctx context.Context, text string) {
	if err := n.sender.SendText(ctx, n.owner, text); err != nil {
		n.log.Errorw("failed to notify owner", "error", err)
	}
}
