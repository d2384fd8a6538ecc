package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/model"
)

// systemStateResponse is the body for GET /api/system/state.
type systemStateResponse struct {
	State          model.SystemStateName `json:"state"`
	Since          time.Time             `json:"since"`
	DurationSec    float64               `json:"duration_sec"`
	Health         []model.ServiceHealth `json:"health,omitempty"`
	LastTransition *model.Transition     `json:"last_transition,omitempty"`
}

func (s *Server) getSystemState(c *gin.Context) {
	cur := s.sm.Current()
	c.JSON(http.StatusOK, systemStateResponse{
		State:          cur.State,
		Since:          cur.Since,
		DurationSec:    time.Since(cur.Since).Seconds(),
		Health:         cur.Health,
		LastTransition: cur.LastTransition,
	})
}

// transitionRequest is the body for POST /api/system/state/transition.
type transitionRequest struct {
	State  model.SystemStateName `json:"state" binding:"required"`
	Reason string                `json:"reason"`
	Actor  string                `json:"actor"`
	Meta   map[string]any        `json:"meta"`
}

func (s *Server) postSystemTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !req.State.IsValid() {
		fail(c, http.StatusBadRequest, "unknown system state", gin.H{"state": req.State})
		return
	}
	if err := s.sm.Transition(req.State, req.Reason, req.Actor); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errs.ErrInvalidTransition) {
			status = http.StatusConflict
		}
		fail(c, status, err.Error(), nil)
		return
	}
	s.getSystemState(c)
}

// getSystemStateHistory handles GET /api/system/state/history?limit=N. It
// returns the current state's last transition only, so the list holds at
// most one entry; the state_transitions.jsonl log is not read and earlier
// transitions are not returned.
func (s *Server) getSystemStateHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	cur := s.sm.Current()
	history := []*model.Transition{}
	if cur.LastTransition != nil {
		history = append(history, cur.LastTransition)
	}
	if len(history) > limit {
		history = history[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"transitions": history})
}

func (s *Server) getSystemHealth(c *gin.Context) {
	cur := s.sm.Current()
	warnings := s.systemWarnings()
	c.JSON(http.StatusOK, gin.H{
		"state":    cur.State,
		"health":   cur.Health,
		"warnings": warnings,
	})
}

// systemWarnings surfaces operational advisories alongside the raw health
// map, e.g. inbox depth approaching the backpressure threshold.
func (s *Server) systemWarnings() []string {
	var warnings []string
	if s.inbox != nil {
		if depth, err := s.inbox.Depth(); err == nil && s.cfg.MaxInboxDepth > 0 {
			if ratio := float64(depth) / float64(s.cfg.MaxInboxDepth); ratio >= 0.8 {
				warnings = append(warnings, "inbox depth near MAX_INBOX_DEPTH")
			}
		}
	}
	return warnings
}
