package ports

import (
	"context"
	"time"

	"github.com/layer-3/sigil/core"
)

// KV is a minimal keyed store with TTL, used for nonce registration on the
// backend and as the backing tier for draft/session persistence.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns core.ErrNotFound for missing keys.
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// DraftStore persists in-flight login progress so an attempt can resume
// across reloads. Load returns core.ErrNotFound when no draft is stored.
type DraftStore interface {
	Load(ctx context.Context) (*core.Draft, error)
	Save(ctx context.Context, draft *core.Draft) error
	Clear(ctx context.Context) error
}

// SessionStore persists the committed session, plus a durable recovery
// snapshot of draft fields written whenever the draft mutates while a
// session exists. Load returns core.ErrNotFound when no session is stored.
type SessionStore interface {
	Load(ctx context.Context) (*core.Session, error)
	Save(ctx context.Context, session *core.Session) error
	SaveRecovery(ctx context.Context, draft *core.Draft) error
	Clear(ctx context.Context) error
}
