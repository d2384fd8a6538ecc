package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sheratan/mesh/pkg/model"
)

// createMissionRequest is the body for POST /api/missions.
type createMissionRequest struct {
	Title       string         `json:"title" binding:"required"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) createMission(c *gin.Context) {
	var req createMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	m := &model.Mission{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Metadata:    req.Metadata,
	}
	if err := s.store.CreateMission(m); err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) listMissions(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListMissions())
}

func (s *Server) getMission(c *gin.Context) {
	m, err := s.store.GetMission(c.Param("mid"))
	if err != nil {
		fail(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, m)
}

// createTaskRequest is the body for POST /api/missions/{mid}/tasks.
type createTaskRequest struct {
	Name          string         `json:"name" binding:"required"`
	Kind          model.JobKind  `json:"kind" binding:"required"`
	Params        map[string]any `json:"params"`
	MaxIterations int            `json:"max_iterations"`
}

func (s *Server) createTask(c *gin.Context) {
	missionID := c.Param("mid")
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !req.Kind.IsValid() {
		fail(c, http.StatusBadRequest, "invalid job kind", gin.H{"kind": req.Kind})
		return
	}

	t := &model.Task{
		ID:            uuid.NewString(),
		MissionID:     missionID,
		Name:          req.Name,
		Kind:          req.Kind,
		Params:        req.Params,
		MaxIterations: req.MaxIterations,
	}
	if err := s.store.CreateTask(t); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, t)
}
