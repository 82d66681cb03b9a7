package session

import "sync"

// Defaults seeds fields on first contact with a user.
type Defaults struct {
	InitialPrompt string
	ModelType     string
	DecodingMode  string
	BufferSize    int
	DocumentTitle string
}

// Store maps user identity to Session. Entries live for the process
// lifetime; there is no eviction.
type Store struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
	defaults Defaults
}

// NewStore creates a Store that seeds new sessions from d.
func NewStore(d Defaults) *Store {
	return &Store{
		sessions: make(map[Key]*Session),
		defaults: d,
	}
}

// GetOrCreate returns the session for key, creating it on first reference.
// Repeated calls for the same key are a no-op on fields.
func (st *Store) GetOrCreate(key Key) *Session {
	st.mu.RLock()
	sess, ok := st.sessions[key]
	st.mu.RUnlock()
	if ok {
		return sess
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[key]; ok {
		return sess
	}
	sess = newSession(key, st.defaults)
	st.sessions[key] = sess
	return sess
}

// Len returns the number of known sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
