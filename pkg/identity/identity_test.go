package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
)

func TestValidateAgentID_AcceptsWellFormed(t *testing.T) {
	assert.NoError(t, ValidateAgentID("agent-007"))
	assert.NoError(t, ValidateAgentID("Scenario_A"))
}

func TestValidateAgentID_RejectsBadFormat(t *testing.T) {
	err := ValidateAgentID("has a space")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidIdentifier, apperr.CodeOf(err))
}

func TestValidateAgentID_RejectsTooLong(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	err := ValidateAgentID(string(long))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidIdentifier, apperr.CodeOf(err))
}

func TestValidateAgentID_RejectsReservedNames(t *testing.T) {
	for _, id := range []string{"system", "ADMIN", "root", "mcp"} {
		err := ValidateAgentID(id)
		require.Error(t, err, id)
		assert.Equal(t, apperr.CodeReservedName, apperr.CodeOf(err))
	}
}

func TestValidateAgentID_RejectsReservedPrefixes(t *testing.T) {
	err := ValidateAgentID("governance_watcher")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeReservedName, apperr.CodeOf(err))
}

func TestAPIKey_GenerateAndVerifyRoundtrip(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, VerifyAPIKey(key.Plaintext, key.Salt, key.Hash))
	assert.False(t, VerifyAPIKey("wrong-key", key.Salt, key.Hash))
}

func TestKeyHint_MasksMiddle(t *testing.T) {
	hint := KeyHint("abcdefghijklmnop")
	assert.Equal(t, "abcd…mnop", hint)
}

func TestSessionBinder_ResolveAutoInjectsBoundAgent(t *testing.T) {
	binder := NewSessionBinder(time.Minute)
	agentID := uuid.New()
	binder.Bind("session-1", agentID)

	resolved, err := binder.Resolve("session-1", nil)
	require.NoError(t, err)
	assert.Equal(t, agentID, resolved)
}

func TestSessionBinder_ResolveMismatchFails(t *testing.T) {
	binder := NewSessionBinder(time.Minute)
	bound := uuid.New()
	binder.Bind("session-1", bound)

	other := uuid.New()
	_, err := binder.Resolve("session-1", &other)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeSessionMismatch, apperr.CodeOf(err))
}

func TestSessionBinder_ExpiresAfterTTL(t *testing.T) {
	binder := NewSessionBinder(0)
	binder.Bind("session-1", uuid.New())
	time.Sleep(time.Millisecond)
	_, ok := binder.Lookup("session-1")
	assert.False(t, ok)
}

func TestTokenIssuer_IssueAndValidateRoundtrip(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)

	token, _, err := issuer.Issue("agent-007", time.Hour)
	require.NoError(t, err)

	agentID, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-007", agentID)
}

func TestTokenIssuer_RejectsTamperedToken(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)

	token, _, err := issuer.Issue("agent-007", time.Hour)
	require.NoError(t, err)

	_, err = issuer.Validate(token + "x")
	assert.Error(t, err)
}

func TestNewTokenIssuer_RejectsEmptySecret(t *testing.T) {
	_, err := NewTokenIssuer("")
	assert.Error(t, err)
}
