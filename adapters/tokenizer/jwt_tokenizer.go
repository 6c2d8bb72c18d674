package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

// AudienceSession marks tokens issued for wallet login sessions.
const AudienceSession = "sigil:session"

// DefaultSessionExpiry matches the 7-day durable cookie expiry.
const DefaultSessionExpiry = 7 * 24 * time.Hour

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs.
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	expiry  time.Duration
}

// NewJWTTokenizer creates a new JWT tokenizer.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey, expiry: DefaultSessionExpiry}
}

// SessionToToken converts a committed session to a signed JWT.
func (j *JWTTokenizer) SessionToToken(session *core.Session) (string, error) {
	issuedAt := session.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(j.expiry)),
			Audience:  jwt.ClaimStrings{AudienceSession},
		},
		Username: session.Username,
		Verified: session.Verified,
		Degraded: session.Degraded,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signedToken, nil
}

// TokenToSession parses a session JWT back into a session.
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.Session, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceSession))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, core.ErrVerificationRejected
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	return &core.Session{
		Address:  claims.Subject,
		Username: claims.Username,
		Token:    tokenStr,
		Verified: claims.Verified,
		Degraded: claims.Degraded,
		IssuedAt: claims.IssuedAt.Time,
	}, nil
}
