package statemachine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sheratan/mesh/pkg/lockutil"
	"github.com/sheratan/mesh/pkg/model"
)

func ensureDirs(runtimeDir, logsDir string) error {
	for _, d := range []string{runtimeDir, logsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("statemachine: mkdir %s: %w", d, err)
		}
	}
	return nil
}

func readSnapshot(path string) (model.SystemState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.SystemState{}, err
	}
	var s model.SystemState
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.SystemState{}, fmt.Errorf("statemachine: parse snapshot: %w", err)
	}
	if !s.State.IsValid() {
		return model.SystemState{}, fmt.Errorf("statemachine: snapshot carries invalid state %q", s.State)
	}
	return s, nil
}

func writeSnapshot(path string, s model.SystemState) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("statemachine: marshal snapshot: %w", err)
	}
	return lockutil.AtomicWriteFile(path, raw, 0o644)
}

// readLastTransition reads the last syntactically valid line of the
// transitions JSONL log.
func readLastTransition(path string) (*model.Transition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last *model.Transition
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t model.Transition
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		if !t.NewState.IsValid() {
			continue
		}
		cp := t
		last = &cp
	}
	if last == nil {
		return nil, fmt.Errorf("statemachine: no valid transition line in %s", path)
	}
	return last, nil
}

func appendTransition(path, lockPath string, t *model.Transition) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("statemachine: marshal transition: %w", err)
	}
	return lockutil.AppendLineLocked(path, lockPath, raw, lockutil.DefaultTimeout)
}
