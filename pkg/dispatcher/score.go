package dispatcher

import "github.com/sheratan/mesh/pkg/config"

// ObservedMetrics is what the dispatcher measures or reads back once a
// result arrives.
type ObservedMetrics struct {
	Success   float64 // S, [0,1]: 1.0 if result.status == "completed"
	Quality   float64 // Q, [0,1]: ObserveResult always sets 1.0; results carry no quality metric
	Relevance float64 // R, [0,1]: ObserveResult always sets 1.0; results carry no relevance metric
	LatencyMS float64
	Cost      float64
	Risk      float64 // K, [0,1]: ObserveResult always sets 0; results carry no risk metric
}

// sheratanScoreV1 computes `wS*S + wQ*Q + wR*R - wL*Lnorm - wC*Cnorm - wK*K`
// using the supplied weights (overridable via SCORE_WEIGHTS) and the
// rolling p50/p95 baselines for normalization.
func sheratanScoreV1(w config.ScoreWeights, m ObservedMetrics, latP50, latP95, costP50, costP95 float64) float64 {
	lNorm := normalize(m.LatencyMS, latP50, latP95)
	cNorm := normalize(m.Cost, costP50, costP95)
	return w.S*m.Success + w.Q*m.Quality + w.R*m.Relevance - w.L*lNorm - w.C*cNorm - w.K*m.Risk
}
