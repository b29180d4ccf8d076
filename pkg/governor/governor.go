// Package governor implements the adaptive PI controller that tunes
// lambda1 from the observed void-event frequency (spec.md §4.4).
package governor

import "fmt"

// Config holds the governor's tuning constants. Kp/Ki are fixed at PI by
// spec.md §9 (an open question resolves proportional-only/PI/PID in
// favor of PI); the decay rate and window are left tunable per spec.md.
type Config struct {
	TargetFrequency float64 // setpoint, default 0.02 (2%)
	Kp              float64 // default 0.5
	Ki              float64 // default 0.05
	IMax            float64 // anti-windup clamp on the integral term
	WindowSize      int     // moving-average window for void frequency, default 50
	DecayRate       float64 // rho: per-update decay toward lambda1_base when idle
	IdleWindow      int     // W: updates with no void event before decay kicks in
}

// DefaultConfig returns the documented defaults (spec.md §4.4).
func DefaultConfig() Config {
	return Config{
		TargetFrequency: 0.02,
		Kp:              0.5,
		Ki:              0.05,
		IMax:            0.10,
		WindowSize:      50,
		DecayRate:       0.02,
		IdleWindow:      25,
	}
}

// State is the per-agent governor state that must be persisted and
// carried across updates (spec.md: "the governor operates on the slow
// timescale (per accepted update)").
type State struct {
	PIIntegral        float64
	Lambda1           float64
	UpdatesSinceVoid  int
	// VoidHistory is a bounded ring of recent void_active observations
	// used to compute the moving-average frequency.
	VoidHistory []bool
}

// NewState returns a fresh governor state seeded at lambda1_base.
func NewState(cfg Config, lambda1Base float64) State {
	return State{Lambda1: lambda1Base}
}

// Advance runs one PI step given whether this update observed a void
// event, and returns the updated state and the new lambda1 (already
// clamped to [lambda1Min, lambda1Max]).
func Advance(cfg Config, s State, voidActive bool, dt, lambda1Base, lambda1Min, lambda1Max float64) State {
	s.VoidHistory = append(s.VoidHistory, voidActive)
	if len(s.VoidHistory) > cfg.WindowSize {
		s.VoidHistory = s.VoidHistory[len(s.VoidHistory)-cfg.WindowSize:]
	}

	measured := movingAverage(s.VoidHistory)
	err := cfg.TargetFrequency - measured

	s.PIIntegral = clamp(s.PIIntegral+cfg.Ki*err*dt, -cfg.IMax, cfg.IMax)

	if voidActive {
		s.UpdatesSinceVoid = 0
	} else {
		s.UpdatesSinceVoid++
	}

	lambda1 := lambda1Base + cfg.Kp*err + s.PIIntegral
	if s.UpdatesSinceVoid >= cfg.IdleWindow {
		// Slow decay toward lambda1_base when no void events have
		// occurred for IdleWindow updates.
		lambda1 = lambda1 + cfg.DecayRate*(lambda1Base-lambda1)
	}
	s.Lambda1 = clamp(lambda1, lambda1Min, lambda1Max)

	return s
}

func movingAverage(history []bool) float64 {
	if len(history) == 0 {
		return 0
	}
	count := 0
	for _, v := range history {
		if v {
			count++
		}
	}
	return float64(count) / float64(len(history))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate checks the config is internally consistent.
func (cfg Config) Validate() error {
	if cfg.WindowSize <= 0 {
		return fmt.Errorf("governor: window_size must be positive, got %d", cfg.WindowSize)
	}
	if cfg.IMax < 0 {
		return fmt.Errorf("governor: i_max must be non-negative, got %v", cfg.IMax)
	}
	if cfg.IdleWindow <= 0 {
		return fmt.Errorf("governor: idle_window must be positive, got %d", cfg.IdleWindow)
	}
	return nil
}
