package chatroom

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/scrivener/internal/command"
	"github.com/user/scrivener/internal/delivery"
	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/pkg/llm"
)

// Prefix keys chat room sessions and delivery routing.
const Prefix = "chatroom"

// Enqueuer submits a session for generation.
type Enqueuer interface {
	Enqueue(sess *session.Session) error
}

// Listener polls the chat room, answers commands synchronously, and hands
// chat messages to the generation pipeline.
type Listener struct {
	client      Client
	store       *session.Store
	interpreter *command.Interpreter
	pipeline    Enqueuer
	retry       *delivery.RetryPolicy

	roomID    string
	botUser   string
	userID    string
	tokenFile string
}

// NewListener creates a chat room listener. tokenFile is where the sync
// resumption token is checkpointed between runs.
func NewListener(client Client, store *session.Store, interpreter *command.Interpreter, pipeline Enqueuer, config Config, tokenFile string) *Listener {
	return &Listener{
		client:      client,
		store:       store,
		interpreter: interpreter,
		pipeline:    pipeline,
		retry:       delivery.DefaultRetryPolicy(),
		roomID:      config.RoomID,
		botUser:     config.BotUser,
		tokenFile:   tokenFile,
	}
}

// Register installs the delivery handler for chat room replies.
func (l *Listener) Register(reg *delivery.Registry) {
	reg.Register(Prefix, func(target, message string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := l.client.SendMessage(ctx, message, htmlBody(message)); err != nil {
			return err
		}
		// Reply is out; clear the typing indicator set when the
		// message was picked up.
		if err := l.client.Typing(ctx, false); err != nil {
			slog.Debug("clear typing failed", "error", err)
		}
		return nil
	})
}

// Run polls the room until ctx is cancelled. Transient sync failures are
// retried with backoff; a permanent failure ends the loop.
func (l *Listener) Run(ctx context.Context) error {
	userID, err := l.client.Login(ctx)
	if err != nil {
		return fmt.Errorf("chat room login: %w", err)
	}
	l.userID = userID

	since := l.readToken()
	slog.Info("chat room listener started", "room", l.roomID, "user", userID, "resuming", since != "")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		nextBatch, events, err := l.sync(ctx, since)
		if err != nil {
			return fmt.Errorf("chat room sync: %w", err)
		}

		for _, ev := range events {
			l.handle(ctx, ev)
		}

		// Checkpoint after handling so a crash replays rather than
		// drops events.
		since = nextBatch
		l.writeToken(nextBatch)
	}
}

// sync runs one sync round, retrying transient failures.
func (l *Listener) sync(ctx context.Context, since string) (string, []Event, error) {
	var nextBatch string
	var events []Event
	err := l.retry.Execute(func() error {
		var err error
		nextBatch, events, err = l.client.Sync(ctx, since)
		return err
	})
	return nextBatch, events, err
}

func (l *Listener) handle(ctx context.Context, ev Event) {
	if ev.Sender == l.userID {
		return
	}
	text, ok := l.addressedText(ev)
	if !ok {
		return
	}

	if err := l.client.ReadReceipt(ctx, ev.EventID); err != nil {
		slog.Debug("read receipt failed", "error", err)
	}
	if err := l.client.Typing(ctx, true); err != nil {
		slog.Debug("typing notification failed", "error", err)
	}

	sess := l.store.GetOrCreate(session.NewKey(Prefix, ev.Sender))
	sess.SetReplyTarget(l.roomID)

	if command.IsCommand(text) {
		reply := l.interpreter.Interpret(sess, text)
		if err := l.client.SendMessage(ctx, reply, htmlBody(reply)); err != nil {
			slog.Error("command reply failed", "error", err)
		}
		if err := l.client.Typing(ctx, false); err != nil {
			slog.Debug("clear typing failed", "error", err)
		}
		return
	}

	sess.Append(llm.RoleUser, text)
	if err := l.pipeline.Enqueue(sess); err != nil {
		slog.Error("enqueue failed", "session", sess.Key(), "error", err)
	}
}

// addressedText reports whether the event is addressed to the bot and
// returns the message text with the address clipped off. Formatted bodies
// are converted to markdown-ish plain text first.
func (l *Listener) addressedText(ev Event) (string, bool) {
	body := strings.TrimSpace(ev.Body)
	if ev.FormattedBody != "" {
		if converted, err := htmltomarkdown.ConvertString(ev.FormattedBody); err == nil {
			body = strings.TrimSpace(converted)
		}
	}

	mention := l.botUser + ": "
	if !strings.HasPrefix(strings.ToLower(body), strings.ToLower(mention)) {
		return "", false
	}
	return strings.TrimSpace(body[len(mention):]), true
}

// htmlBody renders the formatted variant of an outgoing message.
func htmlBody(message string) string {
	return strings.ReplaceAll(message, "\n", "<br>")
}

func (l *Listener) readToken() string {
	data, err := os.ReadFile(l.tokenFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (l *Listener) writeToken(token string) {
	if token == "" {
		return
	}
	if err := os.WriteFile(l.tokenFile, []byte(token), 0o644); err != nil {
		slog.Warn("next-batch token write failed", "path", l.tokenFile, "error", err)
	}
}
