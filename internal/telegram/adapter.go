// Package telegram bridges Telegram to the generation pipeline.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/scrivener/internal/command"
	"github.com/user/scrivener/internal/delivery"
	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/pkg/llm"
)

// Prefix keys Telegram sessions and delivery routing.
const Prefix = "telegram"

const maxTelegramMessage = 4096

// Enqueuer submits a session for generation.
type Enqueuer interface {
	Enqueue(sess *session.Session) error
}

// Adapter long-polls Telegram updates and feeds them to the pipeline.
type Adapter struct {
	bot         *tgbotapi.BotAPI
	store       *session.Store
	interpreter *command.Interpreter
	pipeline    Enqueuer
}

// New creates a Telegram adapter.
func New(token string, store *session.Store, interpreter *command.Interpreter, pipeline Enqueuer) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:         bot,
		store:       store,
		interpreter: interpreter,
		pipeline:    pipeline,
	}, nil
}

// Register installs the delivery handler for Telegram replies. The target
// is the chat ID remembered on the session.
func (a *Adapter) Register(reg *delivery.Registry) {
	reg.Register(Prefix, func(target, message string) error {
		chatID, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return fmt.Errorf("bad chat id %q: %w", target, err)
		}
		return a.send(chatID, message)
	})
}

// Start begins long-polling for updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram adapter started", "user", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(msg *tgbotapi.Message) {
	sess := a.store.GetOrCreate(session.NewKey(Prefix, strconv.FormatInt(msg.From.ID, 10)))
	sess.SetReplyTarget(strconv.FormatInt(msg.Chat.ID, 10))

	if command.IsCommand(msg.Text) {
		reply := a.interpreter.Interpret(sess, msg.Text)
		if err := a.send(msg.Chat.ID, reply); err != nil {
			slog.Error("command reply failed", "error", err)
		}
		return
	}

	sess.Append(llm.RoleUser, msg.Text)
	if err := a.pipeline.Enqueue(sess); err != nil {
		slog.Error("enqueue failed", "session", sess.Key(), "error", err)
	}
}

func (a *Adapter) send(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := a.bot.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// splitMessage chunks text to the platform limit. The limit counts
// characters, not bytes, so cutting happens on rune boundaries.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		end := maxTelegramMessage
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[:end]))
		runes = runes[end:]
	}
	return parts
}
