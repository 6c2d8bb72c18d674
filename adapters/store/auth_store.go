package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

// DefaultAuthTTL matches the 7-day cookie expiry of the durable tier.
const DefaultAuthTTL = 7 * 24 * time.Hour

const (
	draftKey    = "draft"
	sessionKey  = "session"
	recoveryKey = "recovery"
)

// KVDraftStore persists drafts as JSON in a KV tier, scoped by an
// attempt-owner key (e.g. a browser session id).
type KVDraftStore struct {
	kv    ports.KV
	scope string
	ttl   time.Duration
}

// NewKVDraftStore creates a draft store over the given KV tier.
func NewKVDraftStore(kv ports.KV, scope string) *KVDraftStore {
	return &KVDraftStore{kv: kv, scope: scope, ttl: DefaultAuthTTL}
}

func (s *KVDraftStore) key() string {
	return fmt.Sprintf("%s:%s", draftKey, s.scope)
}

// Load reads the stored draft, returning core.ErrNotFound when absent.
func (s *KVDraftStore) Load(ctx context.Context) (*core.Draft, error) {
	raw, err := s.kv.Get(ctx, s.key())
	if err != nil {
		return nil, err
	}

	var draft core.Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &draft, nil
}

// Save writes the draft through to the KV tier.
func (s *KVDraftStore) Save(ctx context.Context, draft *core.Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	return s.kv.Set(ctx, s.key(), string(raw), s.ttl)
}

// Clear removes the stored draft.
func (s *KVDraftStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key())
}

// KVSessionStore persists the committed session and the recovery snapshot
// of draft fields as JSON in a KV tier.
type KVSessionStore struct {
	kv    ports.KV
	scope string
	ttl   time.Duration
}

// NewKVSessionStore creates a session store over the given KV tier.
func NewKVSessionStore(kv ports.KV, scope string) *KVSessionStore {
	return &KVSessionStore{kv: kv, scope: scope, ttl: DefaultAuthTTL}
}

func (s *KVSessionStore) sessionKey() string {
	return fmt.Sprintf("%s:%s", sessionKey, s.scope)
}

func (s *KVSessionStore) recoveryKey() string {
	return fmt.Sprintf("%s:%s", recoveryKey, s.scope)
}

// Load reads the stored session, returning core.ErrNotFound when absent.
func (s *KVSessionStore) Load(ctx context.Context) (*core.Session, error) {
	raw, err := s.kv.Get(ctx, s.sessionKey())
	if err != nil {
		return nil, err
	}

	var session core.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// Save writes the session through to the KV tier.
func (s *KVSessionStore) Save(ctx context.Context, session *core.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.kv.Set(ctx, s.sessionKey(), string(raw), s.ttl)
}

// SaveRecovery writes the durable secondary copy of the draft. It is a
// non-authoritative snapshot used to rehydrate an interrupted re-auth flow.
func (s *KVSessionStore) SaveRecovery(ctx context.Context, draft *core.Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode recovery snapshot: %w", err)
	}
	return s.kv.Set(ctx, s.recoveryKey(), string(raw), s.ttl)
}

// LoadRecovery reads the recovery snapshot, returning core.ErrNotFound when
// absent.
func (s *KVSessionStore) LoadRecovery(ctx context.Context) (*core.Draft, error) {
	raw, err := s.kv.Get(ctx, s.recoveryKey())
	if err != nil {
		return nil, err
	}

	var draft core.Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("decode recovery snapshot: %w", err)
	}
	return &draft, nil
}

// Clear removes the session and the recovery snapshot.
func (s *KVSessionStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.sessionKey()); err != nil {
		return err
	}
	return s.kv.Delete(ctx, s.recoveryKey())
}

var (
	_ ports.DraftStore   = (*KVDraftStore)(nil)
	_ ports.SessionStore = (*KVSessionStore)(nil)
)
