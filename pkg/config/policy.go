package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// riskPolicyFileName is the policy document looked for under PoliciesDir
// when RISK_POLICY_FILE is not set explicitly.
const riskPolicyFileName = "risk_policy.yaml"

type riskPolicyFile struct {
	ReadOnly        bool    `yaml:"readonly"`
	BudgetRemaining float64 `yaml:"budget_remaining"`
}

// loadRiskPolicyFile reads a YAML risk-policy document into cfg.RiskPolicy.
// The explicit RISK_POLICY_FILE path must exist; the default
// PoliciesDir/risk_policy.yaml is optional. Env overrides
// (RISK_POLICY_READONLY, RISK_POLICY_BUDGET) are applied after this, so
// the file sets the baseline and the environment wins.
func loadRiskPolicyFile(cfg *Config) error {
	path := os.Getenv("RISK_POLICY_FILE")
	required := path != ""
	if path == "" {
		path = filepath.Join(cfg.PoliciesDir, riskPolicyFileName)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("config: risk policy %s: %w", path, err)
	}

	var pf riskPolicyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("config: risk policy %s: %w", path, err)
	}
	cfg.RiskPolicy = RiskPolicy{ReadOnly: pf.ReadOnly, BudgetRemaining: pf.BudgetRemaining}
	return nil
}

// parseScoreWeights parses the SCORE_WEIGHTS override, a comma-separated
// list of the six coefficients in wS,wQ,wR,wL,wC,wK order.
func parseScoreWeights(v string) (ScoreWeights, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 6 {
		return ScoreWeights{}, fmt.Errorf("config: SCORE_WEIGHTS: want 6 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 6)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ScoreWeights{}, fmt.Errorf("config: SCORE_WEIGHTS[%d]: %w", i, err)
		}
		vals[i] = f
	}
	return ScoreWeights{S: vals[0], Q: vals[1], R: vals[2], L: vals[3], C: vals[4], K: vals[5]}, nil
}
