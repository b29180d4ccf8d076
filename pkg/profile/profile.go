// Package profile holds the frozen dynamics-engine configuration: the
// coefficients of the E/I/S/V ODE, clip bounds, and objective weights.
// A Profile is a plain value; callers load one from YAML and pass it by
// pointer through the dynamics/governor/risk packages without mutating it.
package profile

import "fmt"

// IMode selects how the information-integrity term decays.
type IMode string

const (
	// IModeLinear is the default: dI includes -gammaI*I. Avoids the
	// bistability the logistic variant can exhibit near I=0 and I=1.
	IModeLinear IMode = "linear"
	// IModeLogistic uses -gammaI*I*(1-I).
	IModeLogistic IMode = "logistic"
)

// Weights are the objective-function coefficients (spec.md §4.2).
type Weights struct {
	E   float64 `yaml:"w_e"`
	I   float64 `yaml:"w_i"`
	S   float64 `yaml:"w_s"`
	V   float64 `yaml:"w_v"`
	Eta float64 `yaml:"w_eta"`
}

// Clip describes the inclusive bounds a state scalar is clamped to after
// every Euler step.
type Clip struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (c Clip) apply(v float64) float64 {
	if v < c.Min {
		return c.Min
	}
	if v > c.Max {
		return c.Max
	}
	return v
}

// Profile is the frozen production parameter set (spec.md §4.1).
type Profile struct {
	Alpha      float64 `yaml:"alpha"`
	BetaE      float64 `yaml:"beta_e"`
	BetaI      float64 `yaml:"beta_i"`
	K          float64 `yaml:"k"`
	GammaE     float64 `yaml:"gamma_e"`
	GammaI     float64 `yaml:"gamma_i"`
	Mu         float64 `yaml:"mu"`
	Kappa      float64 `yaml:"kappa"`
	Delta      float64 `yaml:"delta"`
	BetaComplex float64 `yaml:"beta_complex"`

	Lambda1Base float64 `yaml:"lambda1_base"`
	Lambda1Min  float64 `yaml:"lambda1_min"`
	Lambda1Max  float64 `yaml:"lambda1_max"`
	Lambda2Base float64 `yaml:"lambda2_base"`

	CMax float64 `yaml:"c_max"`
	// C1 scales V inside the coherence function C(V,Theta) = 0.5*CMax*(1+tanh(C1*V)).
	C1 float64 `yaml:"c1"`

	Weights Weights `yaml:"weights"`

	Dt float64 `yaml:"dt"`

	ClipE Clip `yaml:"clip_e"`
	ClipI Clip `yaml:"clip_i"`
	ClipS Clip `yaml:"clip_s"`
	ClipV Clip `yaml:"clip_v"`

	IMode IMode `yaml:"i_mode"`

	// TauHigh is the Phi threshold at/above which the verdict is "proceed".
	TauHigh float64 `yaml:"tau_high"`

	// Stochastic enables the sigma*sqrt(dt)*Z noise term on dS. Off by
	// default so the engine is deterministic without a seeded RNG.
	Stochastic bool    `yaml:"stochastic"`
	Sigma      float64 `yaml:"sigma"`
}

// Default returns the production profile (spec.md §4.1 defaults).
func Default() *Profile {
	return &Profile{
		Alpha:       0.42,
		BetaE:       0.10,
		BetaI:       0.30,
		K:           0.10,
		GammaE:      0.05,
		GammaI:      0.169,
		Mu:          0.80,
		Kappa:       0.30,
		Delta:       0.40,
		BetaComplex: 0.10,

		Lambda1Base: 0.15,
		Lambda1Min:  0.05,
		Lambda1Max:  0.20,
		Lambda2Base: 0.05,

		CMax: 1.0,
		C1:   1.0,

		Weights: Weights{E: 1, I: 1, S: 1, V: 0.5, Eta: 0.5},

		Dt: 0.1,

		ClipE: Clip{Min: 0, Max: 1},
		ClipI: Clip{Min: 0, Max: 1},
		ClipS: Clip{Min: 0, Max: 2},
		ClipV: Clip{Min: -2, Max: 2},

		IMode: IModeLinear,

		TauHigh: 0,

		Stochastic: false,
		Sigma:      0,
	}
}

// clampE applies the E clip bound.
func (p *Profile) clampE(v float64) float64 { return p.ClipE.apply(v) }
func (p *Profile) clampI(v float64) float64 { return p.ClipI.apply(v) }
func (p *Profile) clampS(v float64) float64 { return p.ClipS.apply(v) }
func (p *Profile) clampV(v float64) float64 { return p.ClipV.apply(v) }

// ClampE/I/S/V are exported for callers outside the package (e.g. the
// safe-resume check re-validates a proposed state against the same bounds).
func (p *Profile) ClampE(v float64) float64 { return p.clampE(v) }
func (p *Profile) ClampI(v float64) float64 { return p.clampI(v) }
func (p *Profile) ClampS(v float64) float64 { return p.clampS(v) }
func (p *Profile) ClampV(v float64) float64 { return p.clampV(v) }

// Validate fails fast with an actionable message, mirroring the teacher's
// hand-rolled config.Validator rather than struct-tag validation.
func (p *Profile) Validate() error {
	if p.Dt <= 0 {
		return fmt.Errorf("profile: dt must be positive, got %v", p.Dt)
	}
	if p.Lambda1Min > p.Lambda1Max {
		return fmt.Errorf("profile: lambda1_min (%v) must be <= lambda1_max (%v)", p.Lambda1Min, p.Lambda1Max)
	}
	if p.Lambda1Base < p.Lambda1Min || p.Lambda1Base > p.Lambda1Max {
		return fmt.Errorf("profile: lambda1_base (%v) must be within [%v, %v]", p.Lambda1Base, p.Lambda1Min, p.Lambda1Max)
	}
	if p.ClipE.Min > p.ClipE.Max || p.ClipI.Min > p.ClipI.Max || p.ClipS.Min > p.ClipS.Max || p.ClipV.Min > p.ClipV.Max {
		return fmt.Errorf("profile: clip ranges must have min <= max")
	}
	if p.CMax <= 0 {
		return fmt.Errorf("profile: c_max must be positive, got %v", p.CMax)
	}
	switch p.IMode {
	case IModeLinear, IModeLogistic:
	default:
		return fmt.Errorf("profile: i_mode must be %q or %q, got %q", IModeLinear, IModeLogistic, p.IMode)
	}
	if p.Stochastic && p.Sigma < 0 {
		return fmt.Errorf("profile: sigma must be non-negative when stochastic mode is enabled")
	}
	return nil
}
