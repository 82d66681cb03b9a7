// Package session holds per-user conversation and configuration state.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/scrivener/pkg/llm"
)

// Key identifies a session across platforms, e.g. "discord:1234".
type Key string

// NewKey joins parts into a Key with the platform name first.
func NewKey(parts ...string) Key {
	return Key(strings.Join(parts, ":"))
}

// Platform returns the prefix used to route outbound delivery.
func (k Key) Platform() string {
	s := string(k)
	if idx := strings.Index(s, ":"); idx >= 0 {
		return s[:idx+1]
	}
	return s
}

// Session is one user's conversation state. It is shared by reference
// between the listener goroutines and the generation worker, so every
// field access goes through the session's own mutex.
type Session struct {
	key Key

	mu            sync.Mutex
	prompt        string
	history       []llm.Message
	modelType     string
	decodingMode  string
	configs       map[string]*llm.GenerationConfig
	bufferSize    int
	documentTitle string
	driveFolderID string

	// Transient per-request fields.
	replyTarget string
	enqueuedAt  time.Time
	requestID   string
	inFlight    bool
	pending     int
}

func newSession(key Key, d Defaults) *Session {
	return &Session{
		key:           key,
		prompt:        d.InitialPrompt,
		history:       []llm.Message{{Role: llm.RoleSystem, Content: d.InitialPrompt}},
		modelType:     d.ModelType,
		decodingMode:  d.DecodingMode,
		configs:       make(map[string]*llm.GenerationConfig),
		bufferSize:    d.BufferSize,
		documentTitle: d.DocumentTitle,
	}
}

// Key returns the session's identity key.
func (s *Session) Key() Key { return s.key }

// Append adds a role-tagged entry to the history.
func (s *Session) Append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, llm.Message{Role: role, Content: content})
}

// Reset clears the history back to a single system entry.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = []llm.Message{{Role: llm.RoleSystem, Content: s.prompt}}
}

// Prompt returns the current system prompt.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// SetPrompt replaces the system prompt and resets the history.
func (s *Session) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
	s.history = []llm.Message{{Role: llm.RoleSystem, Content: prompt}}
}

// History returns a copy of the full message history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Window returns a copy of the most recent min(bufferSize, len) messages,
// the slice fed to the model for one generation call.
func (s *Session) Window() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.bufferSize
	if len(s.history) < n {
		n = len(s.history)
	}
	out := make([]llm.Message, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// LastAssistant returns the most recent assistant entry, if any.
func (s *Session) LastAssistant() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == llm.RoleAssistant {
			return s.history[i].Content, true
		}
	}
	return "", false
}

// MessageAt returns the message at reverse index n (1 is the most recent).
func (s *Session) MessageAt(n int) (llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.history) {
		return llm.Message{}, fmt.Errorf("message index %d out of range", n)
	}
	return s.history[len(s.history)-n], nil
}

// BufferSize returns the input window size.
func (s *Session) BufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferSize
}

// SetBufferSize updates the input window size.
func (s *Session) SetBufferSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferSize = n
}

// ModelType returns the active model type.
func (s *Session) ModelType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelType
}

// SetModelType swaps the active model type.
func (s *Session) SetModelType(modelType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelType = modelType
}

// DecodingMode returns the active preset name.
func (s *Session) DecodingMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodingMode
}

// SetDecodingMode records the preset name and merges its overrides onto
// the active model's generation config, if one exists yet.
func (s *Session) SetDecodingMode(name string, overrides map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodingMode = name
	cfg, ok := s.configs[s.modelType]
	if !ok {
		return nil
	}
	return applyOverrides(cfg, overrides)
}

// Config returns the generation config for the active model type.
func (s *Session) Config() (*llm.GenerationConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[s.modelType]
	return cfg, ok
}

// EnsureConfig creates the active model's generation config from defaults
// plus the current decoding-mode overrides, if it does not exist yet.
// Returns the config that is now in place.
func (s *Session) EnsureConfig(defaults *llm.GenerationConfig, overrides map[string]any) (*llm.GenerationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[s.modelType]; ok {
		return cfg, nil
	}
	cfg := defaults.Clone()
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	s.configs[s.modelType] = cfg
	return cfg, nil
}

func applyOverrides(cfg *llm.GenerationConfig, overrides map[string]any) error {
	for name, value := range overrides {
		if err := cfg.Set(name, value); err != nil {
			return fmt.Errorf("apply preset: %w", err)
		}
	}
	return nil
}

// DocumentTitle returns the export document title.
func (s *Session) DocumentTitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentTitle
}

// SetDocumentTitle updates the export document title.
func (s *Session) SetDocumentTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documentTitle = title
}

// DriveFolderID returns the cloud folder target, empty if unset.
func (s *Session) DriveFolderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driveFolderID
}

// SetDriveFolderID updates the cloud folder target.
func (s *Session) SetDriveFolderID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driveFolderID = id
}

// ReplyTarget returns the platform handle replies should be delivered to.
func (s *Session) ReplyTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTarget
}

// SetReplyTarget remembers where the eventual reply should be delivered.
func (s *Session) SetReplyTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyTarget = target
}

// MarkEnqueued stamps the transient request fields for latency logging.
func (s *Session) MarkEnqueued(requestID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = requestID
	s.enqueuedAt = at
}

// RequestInfo returns the transient request ID and enqueue time.
func (s *Session) RequestInfo() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID, s.enqueuedAt
}

// BeginRequest reports whether a new generation request may be enqueued.
// When one is already in flight the message is counted as pending instead,
// so it queues behind the current request rather than interleaving.
func (s *Session) BeginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		s.pending++
		return false
	}
	s.inFlight = true
	return true
}

// FinishRequest completes the in-flight request. It reports whether a
// pending turn arrived during generation; if so the session stays in
// flight and the caller must re-enqueue it.
func (s *Session) FinishRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
		return true
	}
	s.inFlight = false
	return false
}
