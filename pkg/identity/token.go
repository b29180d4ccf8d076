package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
)

// SessionClaims binds a signed bearer token to the agent_id it was
// minted for, so a session key presented over the transport can be
// checked against its claimed agent without a store round-trip.
type SessionClaims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates session-binding bearer tokens, mirroring
// the teacher's legacy HS256 manager but scoped to a single claim.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer constructs an issuer from a non-empty HMAC secret.
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "token secret must not be empty")
	}
	return &TokenIssuer{secret: []byte(secret)}, nil
}

// Issue mints a signed bearer token for agentID valid for ttl.
func (t *TokenIssuer) Issue(agentID string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	exp := time.Now().Add(ttl)
	claims := SessionClaims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   agentID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.CodeStorageError, "sign session token", err)
	}
	return signed, exp, nil
}

// Validate parses and verifies a bearer token, returning its bound agent ID.
func (t *TokenIssuer) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeAuthRequired, "invalid session token", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return "", apperr.New(apperr.CodeAuthRequired, "invalid session token claims")
	}
	return claims.AgentID, nil
}
