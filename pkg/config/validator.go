package config

import "fmt"

// Validator checks a resolved Config. ValidateAll stops at the first
// failing check and reports only that one problem.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, fail-fast.
func (v *Validator) ValidateAll() error {
	if err := v.validatePorts(); err != nil {
		return fmt.Errorf("port validation failed: %w", err)
	}
	if err := v.validateDurations(); err != nil {
		return fmt.Errorf("duration validation failed: %w", err)
	}
	if err := v.validateScoreWeights(); err != nil {
		return fmt.Errorf("score weight validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validatePorts() error {
	if v.cfg.CorePort <= 0 || v.cfg.CorePort > 65535 {
		return fmt.Errorf("CORE_PORT must be in (0, 65535], got %d", v.cfg.CorePort)
	}
	return nil
}

func (v *Validator) validateDurations() error {
	if v.cfg.LeaseDurationSec <= 0 {
		return fmt.Errorf("LEASE_DURATION_SEC must be positive, got %d", v.cfg.LeaseDurationSec)
	}
	if v.cfg.ReaperIntervalSec <= 0 {
		return fmt.Errorf("REAPER_INTERVAL_SEC must be positive, got %d", v.cfg.ReaperIntervalSec)
	}
	if v.cfg.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0, got %d", v.cfg.MaxRetries)
	}
	return nil
}

// ValidateForLLMKinds additionally requires LLMBridgeURL, since the worker
// refuses llm_call/agent_plan/selfloop kinds without a bridge.
func (v *Validator) ValidateForLLMKinds() error {
	if v.cfg.LLMBridgeURL == "" {
		return fmt.Errorf("LLM_BRIDGE_URL is required for llm_call/agent_plan/selfloop job kinds")
	}
	return nil
}

func (v *Validator) validateScoreWeights() error {
	w := v.cfg.ScoreWeights
	if w.S == 0 && w.Q == 0 && w.R == 0 && w.L == 0 && w.C == 0 && w.K == 0 {
		return fmt.Errorf("SCORE_WEIGHTS must not be all-zero")
	}
	return nil
}
