// Package auth holds the operator's bearer credential. A Session is created
// once per process and injected into every component that issues a request
// or opens a stream; nothing reads the token from ambient storage.
package auth

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrUnauthorized is returned when the server rejects the credential.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoCredential is returned when an operation needs a token and the
// session holds none.
var ErrNoCredential = errors.New("no credential: run fleetctl login")

// Session is the live credential. Safe for concurrent use.
type Session struct {
	mu    sync.RWMutex
	token string
	store *Store
}

// NewSession returns a session seeded with token. store may be nil, in which
// case Save and Invalidate only affect memory.
func NewSession(token string, store *Store) *Session {
	return &Session{token: token, store: store}
}

// Token returns the current bearer token, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Valid reports whether a token is held.
func (s *Session) Valid() bool {
	return s.Token() != ""
}

// Set replaces the in-memory token without persisting it.
func (s *Session) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Save replaces the token and persists it when a store is attached.
func (s *Session) Save(token string, username string) error {
	s.Set(token)
	if s.store == nil {
		return nil
	}
	return s.store.Save(Credential{Token: token, Username: username})
}

// Invalidate drops the token from memory and from the store. Called after
// the server answers 401 and by logout.
func (s *Session) Invalidate() error {
	s.Set("")
	if s.store == nil {
		return nil
	}
	return s.store.Remove()
}

// Store returns the attached store, or nil.
func (s *Session) Store() *Store {
	return s.store
}

// Authorize attaches the bearer header to req.
func (s *Session) Authorize(req *http.Request) {
	if token := s.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// AuthorizeURL sets the token query parameter, the convention the server
// uses for the WebSocket push channel.
func (s *Session) AuthorizeURL(u *url.URL) {
	token := s.Token()
	if token == "" {
		return
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
}
