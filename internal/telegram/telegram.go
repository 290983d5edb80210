// Package telegram connects the bot to the Telegram Bot API over long polling.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"raspibot/internal/chat"
)

const (
	pollTimeout    = 60
	maxMessageLen  = 4096
	unknownUser    = "<unknown>"
	tagTextMaxRune = 200
)

// botAPI is the subset of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Transport sends and receives Telegram messages.
type Transport struct {
	api botAPI
	log *zap.SugaredLogger
}

// New authenticates with token. An invalid token is an error.
func New(token string, log *zap.SugaredLogger) (*Transport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authenticate with telegram: %w", err)
	}
	t := newTransport(api, log)
	t.log.Infow("authorized with telegram", "bot", api.Self.UserName)
	return t, nil
}

func newTransport(api botAPI, log *zap.SugaredLogger) *Transport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Transport{api: api, log: log}
}

// SendText delivers text to chatID, split into chunks the API accepts.
func (t *Transport) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return t.sendText(ctx, id, text, "")
}

func (t *Transport) sendText(ctx context.Context, chatID int64, text, parseMode string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = parseMode
		if _, err := t.api.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (t *Transport) sendPhoto(ctx context.Context, chatID int64, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	if _, err := t.api.Send(photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// Conversation returns a chat.Conversation replying into chatID.
func (t *Transport) Conversation(chatID int64) chat.Conversation {
	return &conversation{t: t, chatID: chatID}
}

type conversation struct {
	t      *Transport
	chatID int64
}

func (c *conversation) Send(ctx context.Context, text string) error {
	return c.t.sendText(ctx, c.chatID, text, "")
}

// SendMarkdown falls back to plain text if the API rejects the markup.
func (c *conversation) SendMarkdown(ctx context.Context, text string) error {
	err := c.t.sendText(ctx, c.chatID, text, tgbotapi.ModeMarkdown)
	if err == nil || ctx.Err() != nil {
		return err
	}
	c.t.log.Debugw("markdown rejected, resending as plain text", "error", err)
	return c.t.sendText(ctx, c.chatID, text, "")
}

func (c *conversation) SendPhoto(ctx context.Context, name string, data []byte) error {
	return c.t.sendPhoto(ctx, c.chatID, name, data)
}

// Run long-polls for updates and passes each text message to dispatch until
// ctx is cancelled. dispatch is called from a single goroutine in arrival
// order.
func (t *Transport) Run(ctx context.Context, dispatch chat.Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := t.api.GetUpdatesChan(u)

	t.log.Info("polling for updates")
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			req, ok := t.toRequest(update)
			if !ok {
				continue
			}
			dispatch(ctx, req)
		}
	}
}

// toRequest converts an update into a chat.Request. Non-text updates are
// skipped.
func (t *Transport) toRequest(update tgbotapi.Update) (*chat.Request, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return nil, false
	}

	req := &chat.Request{
		ChatID:       strconv.FormatInt(msg.Chat.ID, 10),
		CallerTag:    callerTag(msg),
		Text:         msg.Text,
		Conversation: t.Conversation(msg.Chat.ID),
	}
	if msg.From != nil {
		req.Caller = chat.NormalizeIdentity(strconv.FormatInt(msg.From.ID, 10))
	}
	if msg.IsCommand() {
		req.Command = strings.ToLower(msg.Command())
		req.Args = strings.Fields(msg.CommandArguments())
	}
	return req, true
}

// callerTag describes the sender for owner alerts.
func callerTag(msg *tgbotapi.Message) string {
	var b strings.Builder
	if u := msg.From; u != nil {
		fmt.Fprintf(&b, "id=%d", u.ID)
		if u.UserName != "" {
			fmt.Fprintf(&b, " username=@%s", u.UserName)
		}
		if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
			fmt.Fprintf(&b, " name=%q", name)
		}
	} else {
		b.WriteString("id=" + unknownUser)
	}
	if msg.Chat != nil {
		fmt.Fprintf(&b, " chat=%d", msg.Chat.ID)
	}
	fmt.Fprintf(&b, " text=%q", truncate(msg.Text, tagTextMaxRune))
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

// splitMessage cuts text into pieces of at most limit runes, preferring to
// break after a newline.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
