package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-governance/sentinel/pkg/collaborator"
)

func TestExtract_Deterministic(t *testing.T) {
	embedder := collaborator.HashEmbedder{}
	in := Input{
		ResponseText: "I think this might work, but let's call the tool to verify.",
		CoreMetrics:  []float64{0.1, 0.2, 0.3},
		Drift:        []float64{0.1, -0.1, 0.2},
	}

	v1, err := Extract(context.Background(), in, embedder)
	require.NoError(t, err)
	v2, err := Extract(context.Background(), in, embedder)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestExtract_CoreMetricsPlaced(t *testing.T) {
	embedder := collaborator.HashEmbedder{}
	v, err := Extract(context.Background(), Input{
		ResponseText: "hello",
		CoreMetrics:  []float64{1, 2, 3, 4, 5, 6, 7}, // extra dropped
	}, embedder)
	require.NoError(t, err)
	assert.Equal(t, [6]float64{1, 2, 3, 4, 5, 6}, [6]float64(v[coreStart:coreEnd]))
}

func TestCoherence_IdenticalVectorsYieldOne(t *testing.T) {
	embedder := collaborator.HashEmbedder{}
	v, err := Extract(context.Background(), Input{ResponseText: "same text"}, embedder)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, Coherence(v, v, DefaultSigma), 1e-9)
}

func TestCoherence_UnitDeltaMapsNearEMinusOne(t *testing.T) {
	var prev, curr Vector
	curr[0] = 1.0 // ||delta||=1
	c := Coherence(prev, curr, DefaultSigma)
	assert.InDelta(t, 0.3679, c, 1e-3)
}

func TestExtract_EmptyDriftYieldsZeroEthicalSlice(t *testing.T) {
	embedder := collaborator.HashEmbedder{}
	v, err := Extract(context.Background(), Input{ResponseText: "hi"}, embedder)
	require.NoError(t, err)
	for idx := ethicalStart; idx < ethicalEnd; idx++ {
		assert.Zero(t, v[idx])
	}
}
