// Package dynamics implements the one-step Euler integrator for the
// four-variable (E, I, S, V) thermodynamic-style agent model, the
// coherence function C(V,Theta), the objective score Phi, and the
// two-tier proceed/pause verdict (spec.md §4.2).
package dynamics

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sentinel-governance/sentinel/pkg/profile"
)

// State is the four-variable dynamical state of one agent.
type State struct {
	E, I, S, V float64
}

// Verdict is the two-tier decision derived from the objective score.
type Verdict string

const (
	VerdictProceed Verdict = "proceed"
	VerdictPause   Verdict = "pause"
)

// Input bundles everything one Euler step needs besides the profile.
type Input struct {
	Current State
	// Drift is the caller-supplied ethical-drift delta vector (may be
	// empty/nil: no parameters were supplied this update).
	Drift []float64
	// Lambda1 and Lambda2 are the current (possibly governor-tuned)
	// control gains.
	Lambda1, Lambda2 float64
	// Complexity in [0,1], clipped by the caller.
	Complexity float64
	// Rand supplies noise when profile.Stochastic is set. Callers that
	// need determinism (tests, replay) pass a seeded *rand.Rand; nil is
	// only valid when Stochastic is false.
	Rand *rand.Rand
}

// Result is the outcome of one successful step.
type Result struct {
	Next       State
	Coherence  float64 // C(V, Theta) — the instantaneous dynamics-internal coherence, not the cross-update fingerprint coherence
	DriftNormSq float64 // mean-squared ||Delta eta||^2
	Phi        float64
	Verdict    Verdict
}

// InstabilityError is returned when any intermediate quantity is
// non-finite. The caller must discard the update and retain the previous
// state (spec.md §4.2 failure mode).
type InstabilityError struct {
	Field string
	Value float64
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf("dynamics: non-finite %s = %v", e.Field, e.Value)
}

func meanSquared(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return sum / float64(len(v))
}

// Coherence computes C(V, Theta) = 0.5*CMax*(1 + tanh(C1*V)).
func Coherence(p *profile.Profile, v float64) float64 {
	return 0.5 * p.CMax * (1 + math.Tanh(p.C1*v))
}

func gI(p *profile.Profile, i float64) float64 {
	switch p.IMode {
	case profile.IModeLogistic:
		return p.GammaI * i * (1 - i)
	default:
		return p.GammaI * i
	}
}

// Step advances the state by one Euler step of size p.Dt and returns the
// clipped next state, the coherence of the input state (used in the
// step), the drift-norm used,
// the objective score, and the verdict. On any non-finite intermediate it
// returns an *InstabilityError and leaves in.Current untouched for the
// caller to retain.
func Step(p *profile.Profile, in Input) (Result, error) {
	e, i, s, v := in.Current.E, in.Current.I, in.Current.S, in.Current.V

	driftSq := meanSquared(in.Drift)
	coherence := Coherence(p, v)

	dE := p.Alpha*(i-e) - p.BetaE*e*s + p.GammaE*e*driftSq
	dI := -p.K*s + p.BetaI*i*coherence - gI(p, i)

	var noise float64
	if p.Stochastic && p.Sigma > 0 {
		if in.Rand == nil {
			return Result{}, fmt.Errorf("dynamics: stochastic mode requires a seeded Rand")
		}
		noise = p.Sigma * math.Sqrt(p.Dt) * in.Rand.NormFloat64()
	}
	dS := -p.Mu*s + in.Lambda1*driftSq - in.Lambda2*coherence + p.BetaComplex*in.Complexity + noise
	dV := p.Kappa*(e-i) - p.Delta*v

	nextE := e + p.Dt*dE
	nextI := i + p.Dt*dI
	nextS := s + p.Dt*dS
	nextV := v + p.Dt*dV

	for name, val := range map[string]float64{"E": nextE, "I": nextI, "S": nextS, "V": nextV} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return Result{}, &InstabilityError{Field: name, Value: val}
		}
	}

	nextE = p.ClampE(nextE)
	nextI = p.ClampI(nextI)
	nextS = p.ClampS(nextS)
	nextV = p.ClampV(nextV)

	next := State{E: nextE, I: nextI, S: nextS, V: nextV}
	phi := Objective(p, next, driftSq)
	verdict := VerdictPause
	if phi >= p.TauHigh {
		verdict = VerdictProceed
	}

	return Result{
		Next:        next,
		Coherence:   coherence,
		DriftNormSq: driftSq,
		Phi:         phi,
		Verdict:     verdict,
	}, nil
}

// Objective computes Phi = wE*E - wI*(1-I) - wS*S - wV*|V| - wEta*||Delta eta||^2.
func Objective(p *profile.Profile, s State, driftNormSq float64) float64 {
	w := p.Weights
	return w.E*s.E - w.I*(1-s.I) - w.S*s.S - w.V*math.Abs(s.V) - w.Eta*driftNormSq
}

// Drift computes the per-component delta between two caller-supplied
// parameter vectors of equal length. Unequal lengths are treated as "no
// drift measurable this step" (empty slice), matching spec.md's
// "Delta eta (may be empty)" input.
func Drift(prev, curr []float64) []float64 {
	if len(prev) == 0 || len(prev) != len(curr) {
		return nil
	}
	out := make([]float64, len(curr))
	for idx := range curr {
		out[idx] = curr[idx] - prev[idx]
	}
	return out
}
