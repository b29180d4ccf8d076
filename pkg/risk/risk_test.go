package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_ClampedToUnitInterval(t *testing.T) {
	w := DefaultWeights()
	r := Score(w, Input{
		CoherenceUnavailable: false,
		Coherence:            -5, // pathological input
		S:                     100,
		SMax:                  1,
		VoidActive:            true,
		V:                     100,
		VMax:                  1,
	})
	assert.Equal(t, 1.0, r)
}

func TestScore_UsesNeutralCoherenceWhenUnavailable(t *testing.T) {
	w := DefaultWeights()
	withUnavailable := Score(w, Input{CoherenceUnavailable: true, SMax: 1, VMax: 1})
	withNeutral := Score(w, Input{Coherence: NeutralCoherence, SMax: 1, VMax: 1})
	assert.InDelta(t, withNeutral, withUnavailable, 1e-9)
}

func TestScore_FirstUpdateFallsInDocumentedRange(t *testing.T) {
	// spec scenario: onboard + first update, no drift, low complexity.
	w := DefaultWeights()
	r := Score(w, Input{
		CoherenceUnavailable: true,
		S:                    0.1,
		SMax:                 2,
		VoidActive:           false,
		V:                    0,
		VMax:                 2,
	})
	assert.GreaterOrEqual(t, r, 0.20)
	assert.LessOrEqual(t, r, 0.40)
}

func TestScore_ZeroMaxDenominatorsAreSafe(t *testing.T) {
	w := DefaultWeights()
	r := Score(w, Input{Coherence: 1, S: 5, SMax: 0, V: 5, VMax: 0})
	assert.GreaterOrEqual(t, r, 0.0)
	assert.LessOrEqual(t, r, 1.0)
}

func TestVoidThreshold_EmptyHistoryYieldsFloor(t *testing.T) {
	assert.Equal(t, ThresholdFloor, VoidThreshold(nil))
}

func TestVoidThreshold_NeverBelowFloor(t *testing.T) {
	th := VoidThreshold([]float64{0, 0, 0, 0})
	assert.Equal(t, ThresholdFloor, th)
}

func TestVoidThreshold_TracksSpread(t *testing.T) {
	tight := VoidThreshold([]float64{0.1, 0.1, 0.1, 0.1})
	wide := VoidThreshold([]float64{-1, 1, -1, 1})
	assert.Greater(t, wide, tight)
}

func TestVoidActive_ComparesAbsoluteValue(t *testing.T) {
	assert.True(t, VoidActive(-0.5, 0.4))
	assert.False(t, VoidActive(0.3, 0.4))
}
