package decisionjournal

import (
	"fmt"
	"regexp"

	"github.com/sheratan/mesh/pkg/model"
)

// Redactor strips secrets and collapses absolute paths before a decision
// trace is written to disk. Job params and results land in an append-only
// log the Why-API serves back over HTTP, so anything secret-shaped must be
// scrubbed at write time, not read time.
type Redactor struct {
	patterns    []*compiledPattern
	rootPrefix  string // WorkerRootDir, relativized out of any string values
	maxArtifact int    // bytes; longer artifact strings are truncated
}

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// DefaultRedactor returns a Redactor with the built-in secret patterns:
// API keys, bearer tokens, and credential-shaped fields.
func DefaultRedactor() *Redactor {
	return &Redactor{
		patterns: []*compiledPattern{
			{name: "bearer_token", regex: regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]{8,}`), replacement: "bearer ***redacted***"},
			{name: "api_key_field", regex: regexp.MustCompile(`(?i)("?(api[_-]?key|token|secret|password|authorization|cookie)"?\s*[:=]\s*")[^"]+(")`), replacement: "$1***redacted***$3"},
			{name: "aws_access_key", regex: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), replacement: "***redacted-aws-key***"},
		},
		maxArtifact: 8192,
	}
}

// WithRootPrefix sets the worker root directory whose absolute prefix is
// stripped from persisted strings, returning the Redactor for chaining.
func (r *Redactor) WithRootPrefix(root string) *Redactor {
	r.rootPrefix = root
	return r
}

func (r *Redactor) redactString(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	if r.rootPrefix != "" && len(s) >= len(r.rootPrefix) && s[:len(r.rootPrefix)] == r.rootPrefix {
		s = "." + s[len(r.rootPrefix):]
	}
	return s
}

func (r *Redactor) redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.redactString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = r.redactValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = r.redactValue(vv)
		}
		return out
	default:
		return v
	}
}

// RedactTrace returns a copy of trace with secrets scrubbed from its params
// and result fields, and long artifact strings truncated.
func (r *Redactor) RedactTrace(t model.DecisionTrace) model.DecisionTrace {
	if t.State.Constraints != nil {
		t.State.Constraints = r.redactValue(t.State.Constraints).(map[string]any)
	}
	if t.Action.Params != nil {
		t.Action.Params = r.redactValue(t.Action.Params).(map[string]any)
	}
	if t.Result != nil {
		result := *t.Result
		if result.Error != "" {
			result.Error = r.redactString(result.Error)
		}
		if len(result.Artifacts) > 0 {
			artifacts := make([]string, len(result.Artifacts))
			for i, a := range result.Artifacts {
				a = r.redactString(a)
				if len(a) > r.maxArtifact {
					a = a[:r.maxArtifact] + fmt.Sprintf("...(truncated, %d bytes total)", len(a))
				}
				artifacts[i] = a
			}
			result.Artifacts = artifacts
		}
		t.Result = &result
	}
	return t
}
