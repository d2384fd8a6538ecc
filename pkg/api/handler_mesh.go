package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sheratan/mesh/pkg/model"
)

// registerWorkerRequest is the body for POST /api/mesh/workers/register.
type registerWorkerRequest struct {
	WorkerID     string              `json:"worker_id" binding:"required"`
	Capabilities []model.Capability  `json:"capabilities"`
	Status       string              `json:"status"`
	Endpoint     string              `json:"endpoint"`
	Meta         map[string]any      `json:"meta"`
}

func (s *Server) registerWorker(c *gin.Context) {
	var req registerWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	s.reg.Register(model.Worker{
		ID:           req.WorkerID,
		Capabilities: req.Capabilities,
		Endpoint:     req.Endpoint,
		Online:       req.Status == "" || req.Status == "online",
		Meta:         req.Meta,
	})
	w, _ := s.reg.Get(req.WorkerID)
	c.JSON(http.StatusOK, w)
}

// listWorkers handles GET /api/mesh/workers: the registry with EMAs and
// cooldowns.
func (s *Server) listWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.List())
}
