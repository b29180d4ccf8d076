package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance_RaisesLambda1WhenVoidFrequencyHigh(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	s := NewState(cfg, 0.15)
	for i := 0; i < cfg.WindowSize; i++ {
		s = Advance(cfg, s, true, 0.1, 0.15, 0.05, 0.20)
	}
	assert.InDelta(t, 0.20, s.Lambda1, 1e-9)
}

func TestAdvance_DecaysTowardBaseWhenIdle(t *testing.T) {
	cfg := DefaultConfig()
	s := NewState(cfg, 0.15)
	for i := 0; i < cfg.WindowSize; i++ {
		s = Advance(cfg, s, true, 0.1, 0.15, 0.05, 0.20)
	}
	raised := s.Lambda1
	require.Greater(t, raised, 0.15)

	for i := 0; i < cfg.IdleWindow+10; i++ {
		s = Advance(cfg, s, false, 0.1, 0.15, 0.05, 0.20)
	}
	assert.Less(t, s.Lambda1, raised)
}

func TestAdvance_StaysWithinClampBounds(t *testing.T) {
	cfg := DefaultConfig()
	s := NewState(cfg, 0.15)
	for i := 0; i < 500; i++ {
		voidActive := i%3 == 0
		s = Advance(cfg, s, voidActive, 0.1, 0.15, 0.05, 0.20)
		assert.GreaterOrEqual(t, s.Lambda1, 0.05)
		assert.LessOrEqual(t, s.Lambda1, 0.20)
	}
}

func TestAdvance_VoidHistoryBoundedByWindowSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 5
	s := NewState(cfg, 0.15)
	for i := 0; i < 20; i++ {
		s = Advance(cfg, s, i%2 == 0, 0.1, 0.15, 0.05, 0.20)
	}
	assert.Len(t, s.VoidHistory, 5)
}

func TestConfig_ValidateRejectsBadWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.IdleWindow = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.IMax = -1
	assert.Error(t, cfg.Validate())
}
