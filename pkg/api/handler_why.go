package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sheratan/mesh/pkg/model"
)

// whyLatest handles GET /api/why/latest?intent=….
func (s *Server) whyLatest(c *gin.Context) {
	if wantIntent := c.Query("intent"); wantIntent != "" {
		latest, err := s.journal.LatestByIntent(wantIntent)
		if err != nil {
			fail(c, http.StatusNotFound, "no decision found for intent", gin.H{"intent": wantIntent})
			return
		}
		c.JSON(http.StatusOK, latest)
		return
	}

	latest, err := s.journal.Latest()
	if err != nil {
		fail(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, latest)
}

// whyTrace handles GET /api/why/trace/{trace_id}: the full trace as a tree
// of nodes. Nodes are returned as a flat, ordered list with
// parent_node_id references; the tree itself is reconstructed by the
// caller at read time.
func (s *Server) whyTrace(c *gin.Context) {
	entries, err := s.journal.ByTraceID(c.Param("trace_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if len(entries) == 0 {
		fail(c, http.StatusNotFound, "no trace found", gin.H{"trace_id": c.Param("trace_id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trace_id": c.Param("trace_id"), "nodes": entries})
}

func (s *Server) whyJob(c *gin.Context) {
	entries, err := s.journal.ByJobID(c.Param("job_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("job_id"), "entries": entries})
}

// whyStats handles GET /api/why/stats?intent=…&window=7d.
// The window parameter is accepted but not applied: the journal's
// ComputeStats scans the whole log file, and the journal does not rotate
// or trim that file.
func (s *Server) whyStats(c *gin.Context) {
	stats, err := s.journal.ComputeStats()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	intent := c.Query("intent")
	if intent != "" {
		filtered := map[string]int{intent: stats.ByIntent[intent]}
		c.JSON(http.StatusOK, gin.H{
			"total_entries":  stats.ByIntent[intent],
			"by_intent":      filtered,
			"by_action_type": stats.ByActionType,
			"breach_count":   stats.BreachCount,
			"intent":         model.Intent(intent),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}
