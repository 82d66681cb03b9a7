// Package delivery routes completed replies back to the chat surface the
// request came from.
package delivery

import (
	"fmt"
	"strings"
	"sync"
)

// Handler delivers a message to the platform-specific reply target.
type Handler func(target, message string) error

// Registry routes replies to the appropriate delivery handler based on
// session key prefix (e.g. "chatroom:", "discord:", "telegram:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for session keys starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler matching the session key prefix and calls it
// with the reply target and message. Returns an error if no handler is
// registered for the prefix.
func (r *Registry) Deliver(sessionKey, target, message string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(sessionKey, prefix) {
			return handler(target, message)
		}
	}
	return fmt.Errorf("no delivery handler for session key: %s", sessionKey)
}
