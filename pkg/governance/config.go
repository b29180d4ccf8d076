// Package governance implements the single public contract for
// advancing an agent (spec.md §4.8) plus the surrounding lifecycle,
// identity, and knowledge operations spec.md §6 lists. Service is the
// "single service context object that owns the agent-state store,
// session cache, dialectic registry, and knowledge-graph handle"
// spec.md §9 calls for, replacing the source system's scattered
// process-global caches. Grounded on the teacher's
// pkg/services/session_service.go transactional create-then-update
// pattern and pkg/queue/pool.go's per-agent serialization.
package governance

import "fmt"

// Config holds the ambient thresholds the governance loop needs beyond
// the pure dynamics/risk/governor packages: the circuit-breaker
// pause/resume thresholds (spec.md §4.6/§8) and the void-threshold
// recompute cadence (spec.md §4.5).
type Config struct {
	TauPause             float64 `yaml:"tau_pause"`              // risk >= this pauses (default 0.65, spec.md §8)
	TauCohMin            float64 `yaml:"tau_coh_min"`            // coherence <= this pauses (default 0.35, spec.md §8)
	SafeResumeRiskMax    float64 `yaml:"safe_resume_risk_max"`   // direct_resume_if_safe requires risk below this
	SafeResumeCohMin     float64 `yaml:"safe_resume_coh_min"`    // direct_resume_if_safe requires coherence at/above this
	VoidThresholdWindow  int     `yaml:"void_threshold_window"`  // recompute theta_void every N updates (spec.md §4.5)
	LearningContextLimit int     `yaml:"learning_context_limit"` // how many prior discoveries to surface per update
}

// DefaultConfig returns spec.md §4.6/§8's documented defaults. The
// safe-resume thresholds equal the pause thresholds themselves (spec.md
// §8: "no direct_resume_if_safe call resumes an agent whose current
// risk >= 0.65 or coherence <= 0.35 or void_active=true").
func DefaultConfig() Config {
	return Config{
		TauPause:             0.65,
		TauCohMin:            0.35,
		SafeResumeRiskMax:    0.65,
		SafeResumeCohMin:     0.35,
		VoidThresholdWindow:  50,
		LearningContextLimit: 3,
	}
}

// Validate fails fast on an internally inconsistent Config.
func (c Config) Validate() error {
	if c.TauPause <= 0 || c.TauPause > 1 {
		return fmt.Errorf("governance: tau_pause must be in (0,1], got %v", c.TauPause)
	}
	if c.SafeResumeRiskMax > c.TauPause {
		return fmt.Errorf("governance: safe_resume_risk_max must be <= tau_pause (looser bounds tighten, not loosen, resume)")
	}
	if c.VoidThresholdWindow <= 0 {
		return fmt.Errorf("governance: void_threshold_window must be positive, got %d", c.VoidThresholdWindow)
	}
	return nil
}
