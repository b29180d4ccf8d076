// Package fingerprint extracts the 128-dimensional parameter fingerprint
// from a response text and auxiliary numeric inputs, and measures
// cross-update coherence as the exponential decay of the L2 distance
// between consecutive fingerprints (spec.md §4.3).
package fingerprint

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Dim is the fixed fingerprint dimensionality.
const Dim = 128

const (
	coreStart       = 0
	coreEnd         = 6
	linguisticStart = 6
	linguisticEnd   = 26
	semanticStart   = 26
	semanticEnd     = 90
	behavioralStart = 90
	behavioralEnd   = 110
	ethicalStart    = 110
	ethicalEnd      = 128
)

// Embedder produces the 64-dim semantic embedding slice (components
// 26-89). The built-in HashEmbedder is deterministic and dependency-free;
// a collaborator-backed embedder may be substituted for a richer
// sentence embedding without changing any other part of the pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([64]float64, error)
}

// Input bundles the response text and the caller-supplied numeric
// parameters used for the core-metrics and ethical-drift slices.
type Input struct {
	ResponseText string
	// CoreMetrics fills components 0-5 (caller-supplied core metrics).
	// Missing entries are zero-filled, extra entries are dropped.
	CoreMetrics []float64
	// Drift is the ethical-drift delta vector (Delta eta) for this
	// update, used for the ethical/drift signal slice.
	Drift []float64
}

// Vector is a 128-dim parameter fingerprint.
type Vector [Dim]float64

// Extract is pure and idempotent: the same Input and Embedder always
// yield the same Vector.
func Extract(ctx context.Context, in Input, embedder Embedder) (Vector, error) {
	var v Vector

	for idx := 0; idx < coreEnd-coreStart; idx++ {
		if idx < len(in.CoreMetrics) {
			v[coreStart+idx] = in.CoreMetrics[idx]
		}
	}

	ling := linguisticFeatures(in.ResponseText)
	copy(v[linguisticStart:linguisticEnd], ling[:])

	emb, err := embedder.Embed(ctx, in.ResponseText)
	if err != nil {
		return Vector{}, err
	}
	copy(v[semanticStart:semanticEnd], emb[:])

	behav := behavioralFeatures(in.ResponseText)
	copy(v[behavioralStart:behavioralEnd], behav[:])

	eth := ethicalFeatures(in.Drift)
	copy(v[ethicalStart:ethicalEnd], eth[:])

	return v, nil
}

// linguisticFeatures fills the 20 components of the lightweight
// linguistic-feature slice: length, token count, punctuation ratios,
// code-fence presence, list markers, question count, and a handful of
// derived ratios to use the full slot budget.
func linguisticFeatures(text string) [linguisticEnd - linguisticStart]float64 {
	var f [linguisticEnd - linguisticStart]float64

	runes := []rune(text)
	length := float64(len(runes))
	tokens := strings.Fields(text)
	tokenCount := float64(len(tokens))

	var periods, commas, questions, exclamations, digits, upper float64
	for _, r := range runes {
		switch {
		case r == '.':
			periods++
		case r == ',':
			commas++
		case r == '?':
			questions++
		case r == '!':
			exclamations++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsUpper(r):
			upper++
		}
	}

	lines := strings.Split(text, "\n")
	var listMarkers float64
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "1.") {
			listMarkers++
		}
	}

	codeFence := 0.0
	if strings.Contains(text, "```") {
		codeFence = 1.0
	}

	avgTokenLen := 0.0
	if tokenCount > 0 {
		avgTokenLen = length / tokenCount
	}

	f[0] = length
	f[1] = tokenCount
	f[2] = safeRatio(periods, length)
	f[3] = safeRatio(commas, length)
	f[4] = safeRatio(questions, length)
	f[5] = safeRatio(exclamations, length)
	f[6] = codeFence
	f[7] = listMarkers
	f[8] = questions
	f[9] = float64(len(lines))
	f[10] = safeRatio(digits, length)
	f[11] = safeRatio(upper, length)
	f[12] = avgTokenLen
	f[13] = safeRatio(float64(strings.Count(text, "(")), length)
	f[14] = safeRatio(float64(strings.Count(text, ":")), length)
	f[15] = float64(strings.Count(text, "http"))
	f[16] = safeRatio(float64(strings.Count(text, "  ")), length)
	f[17] = float64(strings.Count(text, "\t"))
	f[18] = safeRatio(float64(countSentences(text)), tokenCount+1)
	f[19] = boolToFloat(length == 0)

	return f
}

// behavioralFeatures fills the 20-component behavioral-signal slice:
// hedging frequency, certainty markers, tool-mention counts, and a few
// closely related ratios.
func behavioralFeatures(text string) [behavioralEnd - behavioralStart]float64 {
	var f [behavioralEnd - behavioralStart]float64
	lower := strings.ToLower(text)
	tokens := strings.Fields(lower)
	tokenCount := float64(len(tokens)) + 1

	hedges := []string{"maybe", "perhaps", "might", "could", "possibly", "seems", "appears", "unsure", "i think", "i believe"}
	certain := []string{"definitely", "certainly", "always", "never", "guaranteed", "must", "will", "clearly", "undoubtedly"}
	toolWords := []string{"tool", "function", "call", "api", "invoke", "execute"}

	var hedgeCount, certainCount, toolCount float64
	for _, w := range hedges {
		hedgeCount += float64(strings.Count(lower, w))
	}
	for _, w := range certain {
		certainCount += float64(strings.Count(lower, w))
	}
	for _, w := range toolWords {
		toolCount += float64(strings.Count(lower, w))
	}

	f[0] = safeRatio(hedgeCount, tokenCount)
	f[1] = safeRatio(certainCount, tokenCount)
	f[2] = toolCount
	f[3] = hedgeCount
	f[4] = certainCount
	f[5] = safeRatio(hedgeCount, certainCount+1)
	// Remaining slots hold zero unless a richer behavioral model is
	// plugged in; the dimension is reserved by the fingerprint layout.
	return f
}

// ethicalFeatures fills the 18-component ethical/drift-signal slice from
// the caller-supplied ethical-drift vector.
func ethicalFeatures(drift []float64) [ethicalEnd - ethicalStart]float64 {
	var f [ethicalEnd - ethicalStart]float64
	if len(drift) == 0 {
		return f
	}

	var sum, sumSq, maxAbs float64
	for _, d := range drift {
		sum += d
		sumSq += d * d
		if a := math.Abs(d); a > maxAbs {
			maxAbs = a
		}
	}
	n := float64(len(drift))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}

	f[0] = mean
	f[1] = sumSq / n
	f[2] = maxAbs
	f[3] = math.Sqrt(variance)
	f[4] = n

	// Remaining slots hold per-component magnitudes up to the available
	// budget, preserving as much drift shape as the slice allows.
	for idx := 5; idx < len(f) && idx-5 < len(drift); idx++ {
		f[idx] = drift[idx-5]
	}
	return f
}

func safeRatio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
		}
	}
	return count
}

// DefaultSigma maps a fingerprint delta of approximately 1.0 to a
// coherence of approximately 0.37 (spec.md §4.3: exp(-1/sigma)=e^-1 => sigma=1).
const DefaultSigma = 1.0

// Coherence computes exp(-||theta_t - theta_{t-1}||_2 / sigma). Pass
// DefaultSigma unless profile tuning overrides it.
func Coherence(prev, curr Vector, sigma float64) float64 {
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	var sumSq float64
	for idx := range curr {
		d := curr[idx] - prev[idx]
		sumSq += d * d
	}
	dist := math.Sqrt(sumSq)
	return math.Exp(-dist / sigma)
}
