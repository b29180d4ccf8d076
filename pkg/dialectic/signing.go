package dialectic

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Signer computes the HMAC signature spec.md §4.9 requires: "HMAC over
// author_id+session_id+content+timestamp using a server secret". This
// is the spec'd algorithm, not a place to substitute golang-jwt (that
// library is used elsewhere for session-binding tokens; see DESIGN.md).
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer from the configured server secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign computes the signature for one phase-transition entry.
func (s *Signer) Sign(authorID uuid.UUID, sessionID uuid.UUID, content string, ts time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s%s%s%d", authorID, sessionID, content, ts.UnixNano())
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches the recomputed signature.
func (s *Signer) Verify(authorID, sessionID uuid.UUID, content string, ts time.Time, sig string) bool {
	return hmac.Equal([]byte(s.Sign(authorID, sessionID, content, ts)), []byte(sig))
}
