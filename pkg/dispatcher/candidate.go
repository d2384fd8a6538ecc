package dispatcher

import (
	"math"
	"sort"

	"github.com/sheratan/mesh/pkg/decisionjournal"
	"github.com/sheratan/mesh/pkg/model"
)

// ucbC is the UCB-Light exploration constant.
const ucbC = 0.5

// candidateRole labels which of the three required MCTS-Light candidate
// archetypes a Candidate was generated as.
type candidateRole string

const (
	roleSafeBaseline  candidateRole = "safe_baseline"
	roleBestPredicted candidateRole = "best_predicted"
	roleExplore       candidateRole = "explore"
)

// Candidate is one worker considered for a single dispatch decision.
type Candidate struct {
	Worker      *model.Worker
	Role        candidateRole
	Priors      model.Priors
	RiskGate    bool
	SelectScore float64
}

// scored pairs a worker with its priors for one intent, used only while
// picking the three candidate archetypes.
type scored struct {
	w *model.Worker
	p model.Priors
}

// buildCandidates constructs the required MCTS-Light candidate set for one
// job: a safe baseline (historically most successful worker for this
// intent), a best predicted (highest mean_score, risk_gate=true), and an
// explore candidate (lowest-visit worker) when more than two eligible
// workers exist.
func buildCandidates(eligible []*model.Worker, intent model.Intent, priors *decisionjournal.PriorsStore, riskPolicy riskGateFn) []Candidate {
	if len(eligible) == 0 {
		return nil
	}

	all := make([]scored, 0, len(eligible))
	for _, w := range eligible {
		all = append(all, scored{w: w, p: priors.Get(intent, w.ID)})
	}

	safeIdx := indexOfMax(all, func(s scored) float64 { return s.w.SuccessRateEMA })
	bestIdx := indexOfMax(all, func(s scored) float64 { return s.p.MeanScore })

	seen := make(map[string]bool)
	var out []Candidate
	add := func(idx int, role candidateRole) {
		if idx < 0 {
			return
		}
		s := all[idx]
		if seen[s.w.ID] {
			return
		}
		seen[s.w.ID] = true
		out = append(out, Candidate{
			Worker:   s.w,
			Role:     role,
			Priors:   s.p,
			RiskGate: riskPolicy(s.w),
		})
	}
	add(safeIdx, roleSafeBaseline)
	add(bestIdx, roleBestPredicted)
	if len(all) > 2 {
		exploreIdx := -1
		for i, s := range all {
			if seen[s.w.ID] {
				continue
			}
			if exploreIdx < 0 || s.p.Visits < all[exploreIdx].p.Visits {
				exploreIdx = i
			}
		}
		add(exploreIdx, roleExplore)
	}
	return out
}

// riskGateFn evaluates whether a worker currently satisfies the hard risk
// gate for a job. Gated-out candidates are removed before scoring, never
// merely down-ranked.
type riskGateFn func(w *model.Worker) bool

func indexOfMax(all []scored, key func(scored) float64) int {
	best := -1
	var bestVal float64
	for i, s := range all {
		v := key(s)
		if best == -1 || v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

func indexOfMin(all []scored, key func(scored) float64) int {
	best := -1
	var bestVal float64
	for i, s := range all {
		v := key(s)
		if best == -1 || v < bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

// applyHardRiskGates drops every candidate whose RiskGate is false.
func applyHardRiskGates(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.RiskGate {
			out = append(out, c)
		}
	}
	return out
}

// selectCandidate computes select_score for each surviving candidate and
// returns the winner, breaking ties by lower latency EMA then
// lexicographically smaller worker ID for determinism.
func selectCandidate(cands []Candidate, parentVisits int) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	if parentVisits < 1 {
		parentVisits = 1
	}
	for i := range cands {
		exploration := ucbC * math.Sqrt(math.Log(float64(parentVisits))/float64(cands[i].Priors.Visits+1))
		riskPenalty := riskPenaltyFor(cands[i].Worker)
		cands[i].SelectScore = cands[i].Priors.MeanScore + exploration - riskPenalty
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].SelectScore != cands[j].SelectScore {
			return cands[i].SelectScore > cands[j].SelectScore
		}
		if cands[i].Worker.LatencyEMAMillis != cands[j].Worker.LatencyEMAMillis {
			return cands[i].Worker.LatencyEMAMillis < cands[j].Worker.LatencyEMAMillis
		}
		return cands[i].Worker.ID < cands[j].Worker.ID
	})
	return cands[0], true
}

// riskPenaltyFor softens the UCB-Light score for a worker carrying
// unresolved failure history, even when it still clears the hard risk gate.
// Scaled small relative to the
// [0,1]-ish mean_score range so it nudges selection rather than dominating it.
func riskPenaltyFor(w *model.Worker) float64 {
	return 0.05 * float64(w.ConsecutiveFailures)
}
