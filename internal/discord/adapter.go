// Package discord bridges Discord to the generation pipeline.
package discord

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/user/scrivener/internal/command"
	"github.com/user/scrivener/internal/delivery"
	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/pkg/llm"
)

// Prefix keys Discord sessions and delivery routing.
const Prefix = "discord"

const maxDiscordMessage = 2000

// Enqueuer submits a session for generation.
type Enqueuer interface {
	Enqueue(sess *session.Session) error
}

// Adapter handles Discord message events and sends replies.
type Adapter struct {
	bot         *discordgo.Session
	store       *session.Store
	interpreter *command.Interpreter
	pipeline    Enqueuer
}

// New creates a Discord adapter.
func New(token string, store *session.Store, interpreter *command.Interpreter, pipeline Enqueuer) (*Adapter, error) {
	bot, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	bot.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	a := &Adapter{
		bot:         bot,
		store:       store,
		interpreter: interpreter,
		pipeline:    pipeline,
	}
	bot.AddHandler(a.onMessage)
	return a, nil
}

// Start opens the gateway connection.
func (a *Adapter) Start() error {
	if err := a.bot.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	slog.Info("discord adapter started", "user", a.bot.State.User.Username)
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop() error {
	return a.bot.Close()
}

// Register installs the delivery handler for Discord replies. The target
// is the channel ID remembered on the session.
func (a *Adapter) Register(reg *delivery.Registry) {
	reg.Register(Prefix, func(target, message string) error {
		return a.send(target, message)
	})
}

func (a *Adapter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	text, ok := a.addressedText(s, m)
	if !ok {
		return
	}

	sess := a.store.GetOrCreate(session.NewKey(Prefix, m.Author.ID))
	sess.SetReplyTarget(m.ChannelID)

	if command.IsCommand(text) {
		reply := a.interpreter.Interpret(sess, text)
		if err := a.send(m.ChannelID, reply); err != nil {
			slog.Error("command reply failed", "error", err)
		}
		return
	}

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		slog.Debug("typing notification failed", "error", err)
	}
	sess.Append(llm.RoleUser, text)
	if err := a.pipeline.Enqueue(sess); err != nil {
		slog.Error("enqueue failed", "session", sess.Key(), "error", err)
	}
}

// addressedText decides whether the bot should answer. Direct messages
// always count; in guild channels only mentions of the bot do, with the
// mention stripped from the returned text.
func (a *Adapter) addressedText(s *discordgo.Session, m *discordgo.MessageCreate) (string, bool) {
	text := strings.TrimSpace(m.Content)
	if m.GuildID == "" {
		return text, text != ""
	}

	for _, user := range m.Mentions {
		if user.ID == s.State.User.ID {
			text = strings.ReplaceAll(text, "<@"+user.ID+">", "")
			text = strings.ReplaceAll(text, "<@!"+user.ID+">", "")
			return strings.TrimSpace(text), true
		}
	}
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == s.State.User.ID {
		return text, text != ""
	}
	return "", false
}

func (a *Adapter) send(channelID, text string) error {
	for _, part := range splitMessage(text, maxDiscordMessage) {
		if _, err := a.bot.ChannelMessageSend(channelID, part); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// splitMessage chunks text to fit the platform limit, preferring to break
// at a newline when one falls inside the chunk. The limit counts
// characters, not bytes, so cutting happens on rune boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
