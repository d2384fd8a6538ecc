package chainrunner

import (
	"bufio"
	"regexp"
	"strings"
)

// SelfloopSections is a worker's Markdown response parsed into its four
// sections. Selfloop Markdown is a raw transport; it is never validated
// against the JSON action schema, and missing sections parse as empty.
type SelfloopSections struct {
	A string // summary / what happened this iteration
	B string // analysis
	C string // actions taken
	D string // open questions for the next iteration
}

var sectionHeader = regexp.MustCompile(`^#{1,3}\s*([A-D])\b[.:)\s-]*(.*)$`)

// ParseSelfloopMarkdown splits raw into its A/B/C/D sections by scanning for
// heading lines like "## A. Summary" or "# D: Open Questions". Content
// before the first recognized heading is ignored; an absent section is
// simply empty.
func ParseSelfloopMarkdown(raw string) SelfloopSections {
	var sections SelfloopSections
	var current *string

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := sectionHeader.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			switch m[1] {
			case "A":
				current = &sections.A
			case "B":
				current = &sections.B
			case "C":
				current = &sections.C
			case "D":
				current = &sections.D
			}
			continue
		}
		if current == nil {
			continue
		}
		if *current != "" {
			*current += "\n"
		}
		*current += line
	}
	sections.A = strings.TrimSpace(sections.A)
	sections.B = strings.TrimSpace(sections.B)
	sections.C = strings.TrimSpace(sections.C)
	sections.D = strings.TrimSpace(sections.D)
	return sections
}

// OpenQuestions splits section D's content into individual questions, one
// per non-empty line, stripping common list markers.
func (s SelfloopSections) OpenQuestions() []string {
	if s.D == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s.D, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = strings.TrimLeft(line, "0123456789.) ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// LoopState is the state threaded across selfloop iterations: the
// iteration counter, the history of A sections, the open questions pulled
// from D, and the preserved constraints. It round-trips through a job's
// Payload.Params["loop_state"] map between iterations.
type LoopState struct {
	Iteration     int            `json:"iteration"`
	History       []string       `json:"history"`
	OpenQuestions []string       `json:"open_questions"`
	Constraints   map[string]any `json:"constraints,omitempty"`
}

// Advance builds the next LoopState from the current one and a newly parsed
// Markdown response.
func (ls LoopState) Advance(sections SelfloopSections) LoopState {
	next := LoopState{
		Iteration:     ls.Iteration + 1,
		History:       append(append([]string(nil), ls.History...), sections.A),
		OpenQuestions: sections.OpenQuestions(),
		Constraints:   ls.Constraints,
	}
	return next
}

// loopStateFromParams decodes a job's params["loop_state"] map into a
// LoopState. A job with no loop state is the first iteration.
func loopStateFromParams(params map[string]any) LoopState {
	raw, ok := params["loop_state"]
	if !ok {
		return LoopState{Iteration: 1}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return LoopState{Iteration: 1}
	}
	ls := LoopState{Iteration: 1}
	if it, ok := m["iteration"].(float64); ok {
		ls.Iteration = int(it)
	}
	if hist, ok := m["history"].([]any); ok {
		for _, h := range hist {
			if s, ok := h.(string); ok {
				ls.History = append(ls.History, s)
			}
		}
	}
	if oq, ok := m["open_questions"].([]any); ok {
		for _, q := range oq {
			if s, ok := q.(string); ok {
				ls.OpenQuestions = append(ls.OpenQuestions, s)
			}
		}
	}
	if c, ok := m["constraints"].(map[string]any); ok {
		ls.Constraints = c
	}
	return ls
}

func (ls LoopState) toParams() map[string]any {
	return map[string]any{
		"loop_state": map[string]any{
			"iteration":      ls.Iteration,
			"history":        ls.History,
			"open_questions": ls.OpenQuestions,
			"constraints":    ls.Constraints,
		},
	}
}
