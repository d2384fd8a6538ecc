// Package decisionjournal implements the schema-validated, append-only
// decision trace stream: every dispatcher decision is
// recorded before any side effect takes place, invalid entries are routed
// to a breach log instead of blocking dispatch, and a companion priors
// store backs the UCB-Light action-selection statistics.
package decisionjournal

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/lockutil"
	"github.com/sheratan/mesh/pkg/model"
)

//go:embed schema/decision_trace_v1.json
var schemaBytes []byte

const (
	traceFileName  = "decision_trace.jsonl"
	breachFileName = "decision_trace_breaches.jsonl"
	// maxRawBreachBytes bounds how much of a rejected entry is retained
	// verbatim in the breach log.
	maxRawBreachBytes = 4096
)

// Journal appends schema-validated decision traces to a JSONL file and
// routes anything that fails validation to a breach log instead.
type Journal struct {
	dir      string
	mu       sync.Mutex
	schema   *jsonschema.Schema
	redactor *Redactor
}

// Open builds a Journal rooted at dir,
// compiling the embedded decision_trace_v1 schema once at startup.
func Open(dir string, redactor *Redactor) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("decisionjournal: mkdir %s: %w", dir, err)
	}
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("decisionjournal: parse embedded schema: %w", err)
	}
	const schemaURL = "https://sheratan.dev/schemas/decision_trace_v1.json"
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("decisionjournal: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("decisionjournal: compile schema: %w", err)
	}
	if redactor == nil {
		redactor = DefaultRedactor()
	}
	return &Journal{dir: dir, schema: schema, redactor: redactor}, nil
}

func (j *Journal) tracePath() string  { return filepath.Join(j.dir, traceFileName) }
func (j *Journal) breachPath() string { return filepath.Join(j.dir, breachFileName) }
func (j *Journal) lockPath() string   { return filepath.Join(j.dir, ".decision_trace.lock") }

// Append validates trace against the decision_trace_v1 schema and appends
// it to the trace stream. Invalid traces never block the caller's dispatch
// decision: they are written to the breach log and a schema-breach error is
// returned so the caller can log it.
func (j *Journal) Append(trace model.DecisionTrace) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if trace.SchemaVersion == "" {
		trace.SchemaVersion = model.SchemaVersion
	}
	if trace.Timestamp.IsZero() {
		trace.Timestamp = time.Now().UTC()
	}
	redacted := j.redactor.RedactTrace(trace)

	raw, err := json.Marshal(redacted)
	if err != nil {
		return fmt.Errorf("decisionjournal: marshal trace %s: %w", trace.NodeID, err)
	}

	var asAny any
	if err := json.Unmarshal(raw, &asAny); err != nil {
		return fmt.Errorf("decisionjournal: re-decode trace %s: %w", trace.NodeID, err)
	}
	if err := j.schema.Validate(asAny); err != nil {
		j.recordBreach(raw, err)
		return errs.New(errs.KindSchemaBreach, "decision_trace_invalid", err)
	}

	return lockutil.AppendLineLocked(j.tracePath(), j.lockPath(), raw, lockutil.DefaultTimeout)
}

// violationPaths flattens a jsonschema validation error into the JSON
// pointers of the offending instance locations.
func violationPaths(verr error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(verr, &ve) {
		return []string{}
	}
	paths := []string{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			paths = append(paths, "/"+strings.Join(e.InstanceLocation, "/"))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return paths
}

func (j *Journal) recordBreach(raw []byte, verr error) {
	truncated := raw
	if len(truncated) > maxRawBreachBytes {
		truncated = truncated[:maxRawBreachBytes]
	}
	breach := model.Breach{
		Timestamp:         time.Now().UTC(),
		ViolationPaths:    violationPaths(verr),
		ErrorMessage:      verr.Error(),
		RawEventTruncated: string(truncated),
	}
	raw, err := json.Marshal(breach)
	if err != nil {
		return
	}
	_ = lockutil.AppendLineLocked(j.breachPath(), j.lockPath(), raw, lockutil.DefaultTimeout)
}
