// Package chatroom connects the bot to a Matrix-style chat room over the
// client-server HTTP API.
package chatroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one room message seen during a sync.
type Event struct {
	EventID       string
	Sender        string
	Body          string
	FormattedBody string
}

// Client is the chat room surface the listener needs.
type Client interface {
	// Login validates credentials and resolves the bot's own user ID.
	Login(ctx context.Context) (userID string, err error)
	// Sync returns new room messages since the given batch token, along
	// with the token to resume from next time.
	Sync(ctx context.Context, since string) (nextBatch string, events []Event, err error)
	// SendMessage posts a message with plain and HTML-formatted bodies.
	SendMessage(ctx context.Context, plain, html string) error
	// Typing sets or clears the bot's typing notification.
	Typing(ctx context.Context, typing bool) error
	// ReadReceipt marks an event as read by the bot.
	ReadReceipt(ctx context.Context, eventID string) error
}

// Config holds chat room connection settings.
type Config struct {
	ServerURL   string `json:"server_url"`
	RoomID      string `json:"room_id"`
	BotUser     string `json:"bot_user"`
	AccessToken string `json:"access_token"`
}

// httpClient implements Client against a Matrix-compatible server.
type httpClient struct {
	config Config
	userID string
	client *http.Client
}

// NewClient creates an HTTP chat room client.
func NewClient(config Config) Client {
	return &httpClient{
		config: config,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *httpClient) Login(ctx context.Context) (string, error) {
	var parsed struct {
		UserID string `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil, &parsed); err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	c.userID = parsed.UserID
	return parsed.UserID, nil
}

// syncResponse mirrors the subset of the sync payload we consume.
type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events []struct {
					Type    string `json:"type"`
					EventID string `json:"event_id"`
					Sender  string `json:"sender"`
					Content struct {
						MsgType       string `json:"msgtype"`
						Body          string `json:"body"`
						FormattedBody string `json:"formatted_body"`
					} `json:"content"`
				} `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

func (c *httpClient) Sync(ctx context.Context, since string) (string, []Event, error) {
	query := url.Values{"timeout": {"30000"}}
	if since != "" {
		query.Set("since", since)
	}

	var parsed syncResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", query, nil, &parsed); err != nil {
		return "", nil, fmt.Errorf("sync: %w", err)
	}

	var events []Event
	room, ok := parsed.Rooms.Join[c.config.RoomID]
	if ok {
		for _, ev := range room.Timeline.Events {
			if ev.Type != "m.room.message" || ev.Content.MsgType != "m.text" {
				continue
			}
			events = append(events, Event{
				EventID:       ev.EventID,
				Sender:        ev.Sender,
				Body:          ev.Content.Body,
				FormattedBody: ev.Content.FormattedBody,
			})
		}
	}
	return parsed.NextBatch, events, nil
}

func (c *httpClient) SendMessage(ctx context.Context, plain, html string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(c.config.RoomID), uuid.New().String())

	content := map[string]string{
		"msgtype": "m.text",
		"body":    plain,
	}
	if html != "" && html != plain {
		content["format"] = "org.matrix.custom.html"
		content["formatted_body"] = html
	}
	return c.do(ctx, http.MethodPut, path, nil, content, nil)
}

func (c *httpClient) Typing(ctx context.Context, typing bool) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(c.config.RoomID), url.PathEscape(c.userID))

	body := map[string]any{"typing": typing}
	if typing {
		// Generation can take a while; keep the indicator alive.
		body["timeout"] = 600000
	}
	return c.do(ctx, http.MethodPut, path, nil, body, nil)
}

func (c *httpClient) ReadReceipt(ctx context.Context, eventID string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/receipt/m.read/%s",
		url.PathEscape(c.config.RoomID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodPost, path, nil, struct{}{}, nil)
}

// do issues one API request, JSON in and out.
func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := strings.TrimRight(c.config.ServerURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
