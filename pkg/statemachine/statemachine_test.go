package statemachine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheratan/mesh/pkg/model"
)

func TestOpenFreshStartsPaused(t *testing.T) {
	dir := t.TempDir()
	sm, err := Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatePaused, sm.Current().State)
}

func TestTransitionRefusesInvalidTarget(t *testing.T) {
	dir := t.TempDir()
	sm, err := Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), nil, nil)
	require.NoError(t, err)
	// PAUSED cannot go directly to DEGRADED per the matrix.
	err = sm.Transition(model.StateDegraded, "test", "tester")
	require.Error(t, err)
}

func TestTransitionAllowedPathPersists(t *testing.T) {
	dir := t.TempDir()
	sm, err := Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, sm.Transition(model.StateOperational, "startup", "system"))
	assert.Equal(t, model.StateOperational, sm.Current().State)

	sm2, err := Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StateOperational, sm2.Current().State)
}

func TestEvaluateHealthStartupPicksOperationalWhenAllActive(t *testing.T) {
	dir := t.TempDir()
	services := []ServiceCheck{
		{Name: "core", Critical: true, Probe: func(ctx context.Context) error { return nil }},
	}
	sm, err := Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), services, nil)
	require.NoError(t, err)

	require.NoError(t, sm.EvaluateHealth(context.Background(), time.Second))
	assert.Equal(t, model.StateOperational, sm.Current().State)
}

func TestEvaluateHealthDegradesOnFailingProbe(t *testing.T) {
	dir := t.TempDir()
	services := []ServiceCheck{
		{Name: "llm_bridge", Critical: true, Probe: func(ctx context.Context) error { return errors.New("down") }},
	}
	sm, err := Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), services, nil)
	require.NoError(t, err)

	require.NoError(t, sm.EvaluateHealth(context.Background(), time.Second))
	assert.Equal(t, model.StateDegraded, sm.Current().State)
}

func TestShutdownTransitionsToPaused(t *testing.T) {
	dir := t.TempDir()
	sm, err := Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, sm.Transition(model.StateOperational, "startup", "system"))
	require.NoError(t, sm.Shutdown("system"))
	assert.Equal(t, model.StatePaused, sm.Current().State)
}

func TestRecoveryFromCorruptSnapshotFallsBackToLog(t *testing.T) {
	dir := t.TempDir()
	runtimeDir := filepath.Join(dir, "runtime")
	logsDir := filepath.Join(dir, "logs")
	sm, err := Open(runtimeDir, logsDir, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sm.Transition(model.StateOperational, "startup", "system"))

	// Corrupt the snapshot; recovery should fall back to the transition log.
	require.NoError(t, os.WriteFile(filepath.Join(runtimeDir, "system_state.json"), []byte("{not json"), 0o644))

	sm2, err := Open(runtimeDir, logsDir, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StateOperational, sm2.Current().State)
}
