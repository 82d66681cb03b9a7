package chatroom

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/scrivener/internal/command"
	"github.com/user/scrivener/internal/config"
	"github.com/user/scrivener/internal/session"
)

// fakeClient replays scripted sync batches, then fails the poll loop.
type fakeClient struct {
	batches  [][]Event
	tokens   []string
	syncs    int
	sent     []string
	typing   []bool
	receipts []string
}

func (f *fakeClient) Login(ctx context.Context) (string, error) {
	return "@scrivener:example.org", nil
}

func (f *fakeClient) Sync(ctx context.Context, since string) (string, []Event, error) {
	if f.syncs >= len(f.batches) {
		return "", nil, fmt.Errorf("invalid: script exhausted")
	}
	batch := f.batches[f.syncs]
	token := f.tokens[f.syncs]
	f.syncs++
	return token, batch, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, plain, html string) error {
	f.sent = append(f.sent, plain)
	return nil
}

func (f *fakeClient) Typing(ctx context.Context, typing bool) error {
	f.typing = append(f.typing, typing)
	return nil
}

func (f *fakeClient) ReadReceipt(ctx context.Context, eventID string) error {
	f.receipts = append(f.receipts, eventID)
	return nil
}

type fakeQueue struct {
	sessions []*session.Session
}

func (q *fakeQueue) Enqueue(sess *session.Session) error {
	q.sessions = append(q.sessions, sess)
	return nil
}

func newTestListener(t *testing.T, client *fakeClient) (*Listener, *fakeQueue, string) {
	t.Helper()
	cfg := config.Defaults()
	store := session.NewStore(session.Defaults{
		InitialPrompt: cfg.InitialPrompt,
		ModelType:     cfg.DefaultModel,
		DecodingMode:  cfg.DefaultDecodingMode,
		BufferSize:    cfg.InputBufferSize,
		DocumentTitle: cfg.DocumentTitle,
	})
	queue := &fakeQueue{}
	tokenFile := filepath.Join(t.TempDir(), "next_batch")
	l := NewListener(client, store, command.New(cfg, nil, nil), queue, Config{
		RoomID:  "!room:example.org",
		BotUser: "scrivener",
	}, tokenFile)
	return l, queue, tokenFile
}

func TestAddressedChatMessageIsEnqueued(t *testing.T) {
	client := &fakeClient{
		batches: [][]Event{{
			{EventID: "$1", Sender: "@alice:example.org", Body: "scrivener: write me a poem"},
			{EventID: "$2", Sender: "@alice:example.org", Body: "talking to someone else"},
		}},
		tokens: []string{"t1"},
	}
	l, queue, _ := newTestListener(t, client)

	if err := l.Run(context.Background()); err == nil {
		t.Fatal("expected run to end with script-exhausted error")
	}

	if len(queue.sessions) != 1 {
		t.Fatalf("enqueued %d sessions, want 1", len(queue.sessions))
	}
	sess := queue.sessions[0]
	if sess.Key() != session.NewKey(Prefix, "@alice:example.org") {
		t.Errorf("session key = %q", sess.Key())
	}
	if sess.ReplyTarget() != "!room:example.org" {
		t.Errorf("reply target = %q", sess.ReplyTarget())
	}
	history := sess.History()
	if got := history[len(history)-1].Content; got != "write me a poem" {
		t.Errorf("appended message = %q, want mention clipped", got)
	}
	if len(client.receipts) != 1 || client.receipts[0] != "$1" {
		t.Errorf("receipts = %v", client.receipts)
	}
}

func TestCommandAnsweredSynchronously(t *testing.T) {
	client := &fakeClient{
		batches: [][]Event{{
			{EventID: "$1", Sender: "@alice:example.org", Body: "scrivener: --show-prompt"},
		}},
		tokens: []string{"t1"},
	}
	l, queue, _ := newTestListener(t, client)

	l.Run(context.Background())

	if len(queue.sessions) != 0 {
		t.Fatal("commands must not reach the generation queue")
	}
	if len(client.sent) != 1 || !strings.Contains(client.sent[0], "Prompt") {
		t.Errorf("sent = %v", client.sent)
	}
}

func TestOwnMessagesIgnored(t *testing.T) {
	client := &fakeClient{
		batches: [][]Event{{
			{EventID: "$1", Sender: "@scrivener:example.org", Body: "scrivener: echo"},
		}},
		tokens: []string{"t1"},
	}
	l, queue, _ := newTestListener(t, client)

	l.Run(context.Background())

	if len(queue.sessions) != 0 || len(client.sent) != 0 {
		t.Error("bot reacted to its own message")
	}
}

func TestNextBatchTokenPersisted(t *testing.T) {
	client := &fakeClient{
		batches: [][]Event{{}, {}},
		tokens:  []string{"t1", "t2"},
	}
	l, _, tokenFile := newTestListener(t, client)

	l.Run(context.Background())

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		t.Fatalf("token file: %v", err)
	}
	if string(data) != "t2" {
		t.Errorf("token = %q, want t2", data)
	}
}

func TestFormattedBodyConverted(t *testing.T) {
	client := &fakeClient{
		batches: [][]Event{{
			{
				EventID:       "$1",
				Sender:        "@alice:example.org",
				Body:          "scrivener: plain fallback",
				FormattedBody: "<p>scrivener: formatted request</p>",
			},
		}},
		tokens: []string{"t1"},
	}
	l, queue, _ := newTestListener(t, client)

	l.Run(context.Background())

	if len(queue.sessions) != 1 {
		t.Fatalf("enqueued %d sessions, want 1", len(queue.sessions))
	}
	history := queue.sessions[0].History()
	if got := history[len(history)-1].Content; got != "formatted request" {
		t.Errorf("appended message = %q", got)
	}
}

func TestHTMLBody(t *testing.T) {
	if got := htmlBody("line one\nline two"); got != "line one<br>line two" {
		t.Errorf("htmlBody = %q", got)
	}
}
