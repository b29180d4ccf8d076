// Package identity implements agent identity validation, API key
// issuance, and session-to-agent binding (spec.md §4.7).
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var reservedNames = map[string]struct{}{
	"system": {}, "admin": {}, "root": {}, "null": {}, "mcp": {},
	"governance": {}, "monitor": {},
}

var reservedPrefixes = []string{
	"system_", "admin_", "root_", "mcp_", "governance_", "auth_",
}

// ValidateAgentID enforces the format, length, and reserved-name rules
// from spec.md §4.7. Violations fail with InvalidIdentifier/ReservedName
// before any state is touched.
func ValidateAgentID(id string) error {
	if id == "" || len(id) > 64 {
		return apperr.New(apperr.CodeInvalidIdentifier, "agent_id must be 1..64 characters")
	}
	if !idPattern.MatchString(id) {
		return apperr.New(apperr.CodeInvalidIdentifier, "agent_id must match ^[A-Za-z0-9_-]+$")
	}
	lower := strings.ToLower(id)
	if _, reserved := reservedNames[lower]; reserved {
		return apperr.New(apperr.CodeReservedName, fmt.Sprintf("agent_id %q is reserved", id))
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return apperr.New(apperr.CodeReservedName, fmt.Sprintf("agent_id %q uses reserved prefix %q", id, prefix))
		}
	}
	return nil
}

// NewAgentUUID mints a fresh UUID v4 for an agent record.
func NewAgentUUID() uuid.UUID {
	return uuid.New()
}

// APIKey is a generated credential; Plaintext is returned exactly once
// to the caller as a "key hint" and never persisted.
type APIKey struct {
	Plaintext string
	Hash      string // hex-encoded salted SHA-256, persisted
	Salt      string // hex-encoded random salt, persisted
}

// GenerateAPIKey mints a new API key and its salted hash, grounded on
// the spec's "returned once as a hint and stored as a salted hash."
func GenerateAPIKey() (APIKey, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return APIKey{}, apperr.Wrap(apperr.CodeStorageError, "generate api key", err)
	}
	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return APIKey{}, apperr.Wrap(apperr.CodeStorageError, "generate api key salt", err)
	}

	plaintext := hex.EncodeToString(keyBytes)
	salt := hex.EncodeToString(saltBytes)
	return APIKey{
		Plaintext: plaintext,
		Hash:      hashKey(plaintext, salt),
		Salt:      salt,
	}, nil
}

// VerifyAPIKey reports whether plaintext matches the stored salted hash
// using a constant-time comparison.
func VerifyAPIKey(plaintext, salt, storedHash string) bool {
	computed := hashKey(plaintext, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

func hashKey(plaintext, salt string) string {
	sum := sha256.Sum256([]byte(salt + plaintext))
	return hex.EncodeToString(sum[:])
}

// KeyHint returns a display-safe fragment of a freshly minted key (the
// "one-time key hint" in the process_update response).
func KeyHint(plaintext string) string {
	if len(plaintext) <= 8 {
		return plaintext
	}
	return plaintext[:4] + "…" + plaintext[len(plaintext)-4:]
}

// binding is one entry in the session cache.
type binding struct {
	agentID   uuid.UUID
	expiresAt time.Time
}

// SessionBinder maps an external session key to the agent UUID it is
// bound to, with a TTL (spec.md §4.6 "session cache"), grounded on the
// teacher's pkg/session.Manager (map + RWMutex). Bindings are held in
// memory only; no copy is written to the durable store, so they do not
// survive a restart.
type SessionBinder struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]binding
}

// NewSessionBinder constructs a binder with the given TTL.
func NewSessionBinder(ttl time.Duration) *SessionBinder {
	return &SessionBinder{ttl: ttl, m: make(map[string]binding)}
}

// Bind associates sessionKey with agentID, refreshing its TTL. An empty
// key (no session) is never bound.
func (b *SessionBinder) Bind(sessionKey string, agentID uuid.UUID) {
	if sessionKey == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[sessionKey] = binding{agentID: agentID, expiresAt: time.Now().Add(b.ttl)}
}

// Lookup returns the bound agent UUID, if any and unexpired.
func (b *SessionBinder) Lookup(sessionKey string) (uuid.UUID, bool) {
	b.mu.RLock()
	entry, ok := b.m[sessionKey]
	b.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return uuid.UUID{}, false
	}
	return entry.agentID, true
}

// Resolve implements the §4.7 auto-injection/mismatch rule: if the
// session key is bound and the caller omitted agent_id, the bound UUID
// is used; if the caller supplied a different agent_id, SessionMismatch
// is returned.
func (b *SessionBinder) Resolve(sessionKey string, suppliedAgentID *uuid.UUID) (uuid.UUID, error) {
	bound, ok := b.Lookup(sessionKey)
	if !ok {
		if suppliedAgentID == nil {
			return uuid.UUID{}, apperr.New(apperr.CodeAuthRequired, "no session binding and no agent_id supplied")
		}
		return *suppliedAgentID, nil
	}
	if suppliedAgentID == nil {
		return bound, nil
	}
	if *suppliedAgentID != bound {
		return uuid.UUID{}, apperr.New(apperr.CodeSessionMismatch, "session is bound to a different agent")
	}
	return bound, nil
}
