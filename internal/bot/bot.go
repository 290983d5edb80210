// Package bot routes owner commands to the supervisor, probe and peripherals.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"raspibot/internal/chat"
	"raspibot/internal/power"
	"raspibot/internal/probe"
	"raspibot/internal/supervisor"
)

const defaultReplyTimeout = 30 * time.Second

// Supervisor runs the single shell process.
type Supervisor interface {
	Start(commandLine string, sink supervisor.Sink) (*supervisor.Process, error)
	ForwardInput(text string) error
}

// LED is the GPIO output controller.
type LED interface {
	Available() bool
	Set(on bool) error
}

// Camera grabs one JPEG frame.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// StatusProbe reports host statistics.
type StatusProbe interface {
	Collect(ctx context.Context) probe.Status
}

// PowerExecutor issues reboot and poweroff.
type PowerExecutor interface {
	Execute(action power.Action, confirmation string) error
}

// Notifier sends text to the owner.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Deps are the collaborators a Bot dispatches to.
type Deps struct {
	Hostname   string
	Supervisor Supervisor
	LED        LED
	Camera     Camera
	Probe      StatusProbe
	Power      PowerExecutor
	Notifier   Notifier
	// Gate wraps every entry point, plain text and unknown commands
	// included.
	Gate chat.Middleware
	// ReplyTimeout bounds each delivery of process output to the chat.
	ReplyTimeout time.Duration
	Logger       *zap.SugaredLogger
}

// Bot is the process-wide session: it owns the routing table and tracks
// handlers in flight.
type Bot struct {
	host     string
	sup      Supervisor
	led      LED
	camera   Camera
	probe    StatusProbe
	power    PowerExecutor
	notifier Notifier
	log      *zap.SugaredLogger

	replyTimeout time.Duration

	commands map[string]chat.Handler
	handler  chat.Handler

	wg sync.WaitGroup
}

// New wires the routing table.
func New(d Deps) *Bot {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.ReplyTimeout <= 0 {
		d.ReplyTimeout = defaultReplyTimeout
	}
	b := &Bot{
		host:     d.Hostname,
		sup:      d.Supervisor,
		led:      d.LED,
		camera:   d.Camera,
		probe:    d.Probe,
		power:    d.Power,
		notifier: d.Notifier,
		log:      d.Logger,

		replyTimeout: d.ReplyTimeout,
	}
	b.commands = map[string]chat.Handler{
		"start":  b.handleHelp,
		"help":   b.handleHelp,
		"status": b.handleStatus,
		"photo":  b.handlePhoto,
		"led":    b.handleLED,
		"run":    b.handleRun,
		"super":  b.handleSuper,
	}

	var mws []chat.Middleware
	if d.Gate != nil {
		mws = append(mws, d.Gate)
	}
	b.handler = chat.Chain(b.route, mws...)
	return b
}

// Dispatch handles one inbound request. Commands run on their own goroutine
// so a slow capture or probe never holds up the next message; plain text is
// handled inline so process input keeps chat order.
func (b *Bot) Dispatch(ctx context.Context, req *chat.Request) {
	// Replies must still go out while the transport is shutting down.
	ctx = context.WithoutCancel(ctx)

	if !req.IsCommand() {
		b.handler(ctx, req)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handler(ctx, req)
	}()
}

// Wait blocks until every dispatched command has returned or ctx is done.
func (b *Bot) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AnnounceOnline tells the owner the bot has started.
func (b *Bot) AnnounceOnline(ctx context.Context) {
	b.notifier.Notify(ctx, fmt.Sprintf("> %s is online <", b.host))
}

// AnnounceOffline tells the owner the bot is stopping.
func (b *Bot) AnnounceOffline(ctx context.Context) {
	b.notifier.Notify(ctx, fmt.Sprintf("> %s is offline <", b.host))
}

func (b *Bot) route(ctx context.Context, req *chat.Request) {
	if !req.IsCommand() {
		b.handleInput(ctx, req)
		return
	}
	h, ok := b.commands[req.Command]
	if !ok {
		b.reply(ctx, req, unknownCommandReply)
		return
	}
	b.log.Debugw("handling command", "command", req.Command, "args", len(req.Args))
	h(ctx, req)
}

func (b *Bot) reply(ctx context.Context, req *chat.Request, text string) {
	if err := req.Conversation.Send(ctx, text); err != nil {
		b.log.Warnw("failed to send reply", "chat", req.ChatID, "error", err)
	}
}

func (b *Bot) replyMarkdown(ctx context.Context, req *chat.Request, text string) {
	if err := req.Conversation.SendMarkdown(ctx, text); err != nil {
		b.log.Warnw("failed to send reply", "chat", req.ChatID, "error", err)
	}
}
