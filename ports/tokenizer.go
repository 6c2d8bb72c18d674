package ports

import "github.com/layer-3/sigil/core"

// Tokenizer converts between committed sessions and bearer tokens. Used by
// the development auth backend; production backends are external.
type Tokenizer interface {
	SessionToToken(session *core.Session) (string, error)
	TokenToSession(token string) (*core.Session, error)
}
