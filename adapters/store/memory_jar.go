package store

import (
	"net/http"
	"sync"
	"time"

	"github.com/layer-3/sigil/core"
)

// MemoryJar is an in-memory CookieJar for tests and headless clients.
type MemoryJar struct {
	cookies map[string]*http.Cookie
	mu      sync.RWMutex
}

// NewMemoryJar creates an empty jar.
func NewMemoryJar() *MemoryJar {
	return &MemoryJar{cookies: make(map[string]*http.Cookie)}
}

// Set stores a cookie, replacing any existing one with the same name.
func (j *MemoryJar) Set(cookie *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cookies[cookie.Name] = cookie
}

// Get retrieves a cookie by name, honoring its expiry.
func (j *MemoryJar) Get(name string) (*http.Cookie, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	cookie, ok := j.cookies[name]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !cookie.Expires.IsZero() && time.Now().After(cookie.Expires) {
		return nil, core.ErrNotFound
	}
	return cookie, nil
}

// Delete removes a cookie by name.
func (j *MemoryJar) Delete(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.cookies, name)
}

// Len reports the number of stored cookies.
func (j *MemoryJar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return len(j.cookies)
}

var _ CookieJar = (*MemoryJar)(nil)
