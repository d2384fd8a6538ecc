// Package config loads the mesh's configuration from a closed set of
// environment variables, each with a sensible default. Unknown variables
// are ignored; recognized ones that fail to parse are an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully-resolved, validated configuration for a core or
// worker process.
type Config struct {
	CorePort          int
	LLMBridgeURL      string
	QueueInbox        string
	QueueOutbox       string
	FailedReports     string
	StoreDir          string
	RuntimeDir        string
	LogsDir           string
	PoliciesDir       string
	LedgerPath        string

	LeaseDurationSec        int
	ReaperIntervalSec       int
	HealthPollSec           int
	DispatchPollMS          int
	MaxInboxDepth           int
	MaxRetries              int
	WorkerCooldownFailures  int
	WorkerCooldownSec       int
	BaselineWindowN         int

	ScoreWeights ScoreWeights
	RiskPolicy   RiskPolicy

	WorkerID           string
	WorkerRootDir      string // filesystem root prefix jobs are bounded to
}

// ScoreWeights overrides the Sheratan Score v1 coefficients.
type ScoreWeights struct {
	S, Q, R, L, C, K float64
}

// DefaultScoreWeights returns the stock Score v1 coefficients.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{S: 3.0, Q: 1.5, R: 1.0, L: 0.8, C: 1.2, K: 2.0}
}

// RiskPolicy gates mutating actions: ReadOnly blocks write-capable job
// kinds at dispatch time. BudgetRemaining is loaded and carried here, but
// candidate building does not read it and does not limit exploration by it.
type RiskPolicy struct {
	ReadOnly        bool
	BudgetRemaining float64
}

// Defaults returns the built-in configuration before any environment
// overrides are applied.
func Defaults() *Config {
	return &Config{
		CorePort:               8001,
		QueueInbox:             "data/webrelay_out",
		QueueOutbox:            "data/webrelay_in",
		FailedReports:          "data/failed_reports",
		StoreDir:               "data/store",
		RuntimeDir:             "runtime",
		LogsDir:                "logs",
		PoliciesDir:            "policies",
		LedgerPath:             "ledger/ledger.jsonl",
		LeaseDurationSec:       300,
		ReaperIntervalSec:      60,
		HealthPollSec:          30,
		DispatchPollMS:         250,
		MaxInboxDepth:          1000,
		MaxRetries:             3,
		WorkerCooldownFailures: 5,
		WorkerCooldownSec:      60,
		BaselineWindowN:        100,
		ScoreWeights:           DefaultScoreWeights(),
		RiskPolicy:             RiskPolicy{ReadOnly: false, BudgetRemaining: 0},
		WorkerRootDir:          ".",
	}
}

// LoadFromEnv builds a Config starting from Defaults() and overriding with
// the recognized environment variables. It does not load a .env file
// itself; callers run godotenv.Load first (see cmd/sheratancore).
func LoadFromEnv() (*Config, error) {
	cfg := Defaults()

	if v := os.Getenv("CORE_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: CORE_PORT: %w", err)
		}
		cfg.CorePort = n
	}
	cfg.LLMBridgeURL = getEnvOr("LLM_BRIDGE_URL", cfg.LLMBridgeURL)
	cfg.QueueInbox = getEnvOr("QUEUE_INBOX", cfg.QueueInbox)
	cfg.QueueOutbox = getEnvOr("QUEUE_OUTBOX", cfg.QueueOutbox)
	cfg.FailedReports = getEnvOr("FAILED_REPORTS", cfg.FailedReports)
	cfg.StoreDir = getEnvOr("STORE_DIR", cfg.StoreDir)
	cfg.RuntimeDir = getEnvOr("RUNTIME_DIR", cfg.RuntimeDir)
	cfg.LogsDir = getEnvOr("LOGS_DIR", cfg.LogsDir)
	cfg.PoliciesDir = getEnvOr("POLICIES_DIR", cfg.PoliciesDir)
	cfg.LedgerPath = getEnvOr("LEDGER_PATH", cfg.LedgerPath)
	cfg.WorkerID = getEnvOr("WORKER_ID", cfg.WorkerID)
	cfg.WorkerRootDir = getEnvOr("WORKER_ROOT_DIR", cfg.WorkerRootDir)

	var err error
	if cfg.LeaseDurationSec, err = getEnvIntOr("LEASE_DURATION_SEC", cfg.LeaseDurationSec); err != nil {
		return nil, err
	}
	if cfg.ReaperIntervalSec, err = getEnvIntOr("REAPER_INTERVAL_SEC", cfg.ReaperIntervalSec); err != nil {
		return nil, err
	}
	if cfg.HealthPollSec, err = getEnvIntOr("HEALTH_POLL_SEC", cfg.HealthPollSec); err != nil {
		return nil, err
	}
	if cfg.DispatchPollMS, err = getEnvIntOr("DISPATCH_POLL_MS", cfg.DispatchPollMS); err != nil {
		return nil, err
	}
	if cfg.MaxInboxDepth, err = getEnvIntOr("MAX_INBOX_DEPTH", cfg.MaxInboxDepth); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getEnvIntOr("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.WorkerCooldownFailures, err = getEnvIntOr("WORKER_COOLDOWN_FAILURES", cfg.WorkerCooldownFailures); err != nil {
		return nil, err
	}
	if cfg.WorkerCooldownSec, err = getEnvIntOr("WORKER_COOLDOWN_SEC", cfg.WorkerCooldownSec); err != nil {
		return nil, err
	}
	if cfg.BaselineWindowN, err = getEnvIntOr("BASELINE_WINDOW_N", cfg.BaselineWindowN); err != nil {
		return nil, err
	}

	if err := loadRiskPolicyFile(cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv("SCORE_WEIGHTS"); v != "" {
		w, err := parseScoreWeights(v)
		if err != nil {
			return nil, err
		}
		cfg.ScoreWeights = w
	}
	if v := os.Getenv("RISK_POLICY_READONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: RISK_POLICY_READONLY: %w", err)
		}
		cfg.RiskPolicy.ReadOnly = b
	}
	if v := os.Getenv("RISK_POLICY_BUDGET"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: RISK_POLICY_BUDGET: %w", err)
		}
		cfg.RiskPolicy.BudgetRemaining = f
	}

	return cfg, nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// LeaseDuration returns LeaseDurationSec as a time.Duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationSec) * time.Second
}

// ReaperInterval returns ReaperIntervalSec as a time.Duration.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSec) * time.Second
}

// HealthPollInterval returns HealthPollSec as a time.Duration.
func (c *Config) HealthPollInterval() time.Duration {
	return time.Duration(c.HealthPollSec) * time.Second
}

// DispatchPollInterval returns DispatchPollMS as a time.Duration.
func (c *Config) DispatchPollInterval() time.Duration {
	return time.Duration(c.DispatchPollMS) * time.Millisecond
}

// WorkerCooldown returns WorkerCooldownSec as a time.Duration.
func (c *Config) WorkerCooldown() time.Duration {
	return time.Duration(c.WorkerCooldownSec) * time.Second
}
