package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"raspibot/internal/chat"
	"raspibot/internal/power"
	"raspibot/internal/supervisor"
)

const (
	helpReply = "Available commands:\n" +
		"/status - host status\n" +
		"/photo - capture a camera frame\n" +
		"/led <on|off> - switch the LED\n" +
		"/run <command> - start a shell command; plain messages go to its input\n" +
		"/super <reboot|poweroff> yes - reboot or power off"
	unknownCommandReply = "Unknown command. Send /help for the list."

	runUsage        = "Usage: /run <command>"
	alreadyRunning  = "A process is already running"
	noActiveProcess = "No active process"

	ledUsage       = "Usage: /led <on|off>"
	ledUnavailable = "GPIO not available"

	superUsage = "Usage: /super <reboot|poweroff> yes"

	photoName = "snapshot.jpg"
)

func (b *Bot) handleHelp(ctx context.Context, req *chat.Request) {
	b.reply(ctx, req, helpReply)
}

func (b *Bot) handleStatus(ctx context.Context, req *chat.Request) {
	b.reply(ctx, req, b.probe.Collect(ctx).Format())
}

func (b *Bot) handlePhoto(ctx context.Context, req *chat.Request) {
	frame, err := b.camera.Capture(ctx)
	if err == nil {
		err = req.Conversation.SendPhoto(ctx, photoName, frame)
	}
	if err != nil {
		b.log.Warnw("photo failed", "error", err)
		b.reply(ctx, req, fmt.Sprintf("Error sending image: %v", err))
	}
}

func (b *Bot) handleLED(ctx context.Context, req *chat.Request) {
	if !b.led.Available() {
		b.reply(ctx, req, ledUnavailable)
		return
	}
	if len(req.Args) == 0 {
		b.reply(ctx, req, ledUsage)
		return
	}

	var on bool
	switch strings.ToLower(req.Args[0]) {
	case "on":
		on = true
	case "off":
	default:
		b.reply(ctx, req, ledUsage)
		return
	}

	if err := b.led.Set(on); err != nil {
		b.log.Errorw("led write failed", "error", err)
		b.reply(ctx, req, fmt.Sprintf("LED error: %v", err))
		return
	}
	if on {
		b.reply(ctx, req, "LED on")
	} else {
		b.reply(ctx, req, "LED off")
	}
}

func (b *Bot) handleRun(ctx context.Context, req *chat.Request) {
	commandLine := commandArgs(req.Text)
	sink := newConversationSink(req.Conversation, b.replyTimeout)

	// Output waits for the acknowledgement; opening on every path keeps a
	// failed reply from holding the output back.
	defer sink.open()

	_, err := b.sup.Start(commandLine, sink)
	switch {
	case err == nil:
		b.replyMarkdown(ctx, req, fmt.Sprintf("Started `%s`. Send messages to interact.", commandLine))
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		b.reply(ctx, req, alreadyRunning)
	case errors.Is(err, supervisor.ErrEmptyCommand):
		b.reply(ctx, req, runUsage)
	default:
		b.log.Errorw("failed to start process", "command", commandLine, "error", err)
		b.reply(ctx, req, fmt.Sprintf("Failed to start process: %v", err))
	}
}

// handleInput forwards plain text to the running process.
func (b *Bot) handleInput(ctx context.Context, req *chat.Request) {
	err := b.sup.ForwardInput(req.Text)
	switch {
	case err == nil:
	case errors.Is(err, supervisor.ErrNoActiveProcess):
		b.reply(ctx, req, noActiveProcess)
	default:
		b.log.Warnw("failed to forward input", "error", err)
		b.reply(ctx, req, fmt.Sprintf("Failed to write to process: %v", err))
	}
}

func (b *Bot) handleSuper(ctx context.Context, req *chat.Request) {
	if len(req.Args) == 0 {
		b.reply(ctx, req, superUsage)
		return
	}
	action, err := power.ParseAction(req.Args[0])
	if err != nil {
		b.reply(ctx, req, superUsage)
		return
	}

	confirmation := ""
	if len(req.Args) > 1 {
		confirmation = req.Args[1]
	}
	if !power.Confirmed(confirmation) {
		b.replyMarkdown(ctx, req, fmt.Sprintf("⚠️ Confirm with: `/super %s yes`", action))
		return
	}

	switch action {
	case power.Reboot:
		b.reply(ctx, req, "Rebooting the system...")
	case power.Poweroff:
		b.reply(ctx, req, "Shutting down...")
	}

	if err := b.power.Execute(action, confirmation); err != nil {
		b.reply(ctx, req, fmt.Sprintf("Failed to %s: %v", action, err))
	}
}

// commandArgs returns everything after the command token, keeping the
// caller's spacing and quoting intact for the shell.
func commandArgs(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}

// conversationSink delivers process output into the chat that started it.
// Output is held back until open is called so the start acknowledgement is
// always the first message. The delivery deadline starts once the sink is
// open, so a slow acknowledgement never eats into it.
type conversationSink struct {
	conv    chat.Conversation
	timeout time.Duration
	ready   chan struct{}
	once    sync.Once
}

func newConversationSink(conv chat.Conversation, timeout time.Duration) *conversationSink {
	return &conversationSink{conv: conv, timeout: timeout, ready: make(chan struct{})}
}

func (s *conversationSink) open() { s.once.Do(func() { close(s.ready) }) }

func (s *conversationSink) Send(ctx context.Context, text string) error {
	<-s.ready
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.conv.Send(ctx, text)
}
