package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8001, cfg.CorePort)
	assert.Equal(t, 300, cfg.LeaseDurationSec)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, DefaultScoreWeights(), cfg.ScoreWeights)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CORE_PORT", "9100")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("LLM_BRIDGE_URL", "http://bridge.local:9000")
	t.Setenv("RISK_POLICY_READONLY", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.CorePort)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, "http://bridge.local:9000", cfg.LLMBridgeURL)
	assert.True(t, cfg.RiskPolicy.ReadOnly)
}

func TestLoadFromEnvScoreWeights(t *testing.T) {
	t.Setenv("SCORE_WEIGHTS", "2.0, 1.0, 0.5, 0.4, 0.6, 1.0")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ScoreWeights{S: 2.0, Q: 1.0, R: 0.5, L: 0.4, C: 0.6, K: 1.0}, cfg.ScoreWeights)

	t.Setenv("SCORE_WEIGHTS", "1,2,3")
	_, err = LoadFromEnv()
	require.Error(t, err)
}

func TestRiskPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("readonly: true\nbudget_remaining: 12.5\n"), 0o644))
	t.Setenv("RISK_POLICY_FILE", path)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RiskPolicy.ReadOnly)
	assert.Equal(t, 12.5, cfg.RiskPolicy.BudgetRemaining)

	// env overrides the file baseline
	t.Setenv("RISK_POLICY_READONLY", "false")
	cfg, err = LoadFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.RiskPolicy.ReadOnly)

	t.Setenv("RISK_POLICY_FILE", filepath.Join(dir, "missing.yaml"))
	_, err = LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvInvalidInt(t *testing.T) {
	t.Setenv("CORE_PORT", "not-a-number")
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestValidatorRejectsBadPort(t *testing.T) {
	cfg := Defaults()
	cfg.CorePort = 0
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
}

func TestValidatorRequiresBridgeForLLMKinds(t *testing.T) {
	cfg := Defaults()
	err := NewValidator(cfg).ValidateForLLMKinds()
	require.Error(t, err)

	cfg.LLMBridgeURL = "http://bridge"
	require.NoError(t, NewValidator(cfg).ValidateForLLMKinds())
}
