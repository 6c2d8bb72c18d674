package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

// Cookie names of the durable tier.
const (
	TokenCookie     = "sigil_token"
	UserCookie      = "sigil_user"
	AuthStateCookie = "sigil_authstate"
)

// CookieJar abstracts where cookies actually live so the store can be bound
// to an http.ResponseWriter, a test jar, or a headless client.
type CookieJar interface {
	Set(cookie *http.Cookie)
	// Get returns core.ErrNotFound for missing cookies.
	Get(name string) (*http.Cookie, error)
	Delete(name string)
}

// userData mirrors the user-data cookie payload.
type userData struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Verified bool   `json:"verified"`
}

// authState mirrors the auth-state recovery cookie payload.
type authState struct {
	CurrentUsername       string `json:"currentUsername"`
	AuthStep              string `json:"authStep"`
	CurrentNonce          string `json:"currentNonce"`
	CurrentMessage        string `json:"currentMessage"`
	IsConnectingFromModal bool   `json:"isConnectingFromModal"`
}

// CookieSessionStore writes the committed session and the recovery snapshot
// to browser cookies: a raw bearer token cookie, a user-data cookie and an
// auth-state recovery cookie, all with a 7-day expiry, strict same-site and
// secure-only.
type CookieSessionStore struct {
	jar CookieJar
	ttl time.Duration
}

// NewCookieSessionStore creates a cookie-backed session store.
func NewCookieSessionStore(jar CookieJar) *CookieSessionStore {
	return &CookieSessionStore{jar: jar, ttl: DefaultAuthTTL}
}

func (s *CookieSessionStore) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(s.ttl),
		MaxAge:   int(s.ttl / time.Second),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func encodePayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodePayload(value string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Load rebuilds a session from the token and user-data cookies.
func (s *CookieSessionStore) Load(ctx context.Context) (*core.Session, error) {
	tokenCookie, err := s.jar.Get(TokenCookie)
	if err != nil {
		return nil, err
	}

	session := &core.Session{Token: tokenCookie.Value}

	userCookie, err := s.jar.Get(UserCookie)
	if err == nil {
		var user userData
		if err := decodePayload(userCookie.Value, &user); err != nil {
			return nil, fmt.Errorf("decode user cookie: %w", err)
		}
		session.Address = user.Address
		session.Username = user.Username
		session.Verified = user.Verified
	}

	if !session.Valid() {
		return nil, core.ErrNotFound
	}
	return session, nil
}

// Save writes the token and user-data cookies.
func (s *CookieSessionStore) Save(ctx context.Context, session *core.Session) error {
	if !session.Valid() {
		return core.ErrStoreOperationFailed
	}

	// The token cookie carries the raw bearer string, not a JSON payload.
	s.jar.Set(s.cookie(TokenCookie, session.Token))

	payload, err := encodePayload(userData{
		Address:  session.Address,
		Username: session.Username,
		Verified: session.Verified,
	})
	if err != nil {
		return fmt.Errorf("encode user cookie: %w", err)
	}
	s.jar.Set(s.cookie(UserCookie, payload))
	return nil
}

// SaveRecovery writes the auth-state recovery cookie from draft fields.
func (s *CookieSessionStore) SaveRecovery(ctx context.Context, draft *core.Draft) error {
	state := authState{
		CurrentUsername:       draft.Username,
		AuthStep:              string(draft.Step),
		IsConnectingFromModal: draft.InitiatedConnect,
	}
	if draft.Challenge != nil {
		state.CurrentNonce = draft.Challenge.Nonce
		state.CurrentMessage = draft.Challenge.Message
	}

	payload, err := encodePayload(state)
	if err != nil {
		return fmt.Errorf("encode auth-state cookie: %w", err)
	}
	s.jar.Set(s.cookie(AuthStateCookie, payload))
	return nil
}

// LoadRecovery rebuilds a draft from the auth-state recovery cookie.
func (s *CookieSessionStore) LoadRecovery(ctx context.Context) (*core.Draft, error) {
	cookie, err := s.jar.Get(AuthStateCookie)
	if err != nil {
		return nil, err
	}

	var state authState
	if err := decodePayload(cookie.Value, &state); err != nil {
		return nil, fmt.Errorf("decode auth-state cookie: %w", err)
	}

	draft := &core.Draft{
		Step:             core.Step(state.AuthStep),
		Username:         state.CurrentUsername,
		InitiatedConnect: state.IsConnectingFromModal,
	}
	if state.CurrentNonce != "" || state.CurrentMessage != "" {
		draft.Challenge = &core.Challenge{
			Nonce:   state.CurrentNonce,
			Message: state.CurrentMessage,
		}
	}
	return draft, nil
}

// Clear deletes all three cookies.
func (s *CookieSessionStore) Clear(ctx context.Context) error {
	s.jar.Delete(TokenCookie)
	s.jar.Delete(UserCookie)
	s.jar.Delete(AuthStateCookie)
	return nil
}

var _ ports.SessionStore = (*CookieSessionStore)(nil)
