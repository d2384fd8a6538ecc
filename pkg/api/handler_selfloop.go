package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sheratan/mesh/pkg/model"
)

// createSelfloopRequest is the body for POST /api/selfloop/create.
type createSelfloopRequest struct {
	Goal          string `json:"goal" binding:"required"`
	MaxIterations int    `json:"max_iterations"`
}

// createSelfloop creates a mission, a single selfloop task, and the task's
// first iteration job in one call, rather than requiring three separate
// calls to missions/tasks/jobs.
func (s *Server) createSelfloop(c *gin.Context) {
	if s.checkBackpressure(c) {
		return
	}
	var req createSelfloopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	mission := &model.Mission{
		ID:    uuid.NewString(),
		Title: req.Goal,
	}
	if err := s.store.CreateMission(mission); err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	task := &model.Task{
		ID:            uuid.NewString(),
		MissionID:     mission.ID,
		Name:          req.Goal,
		Kind:          model.KindSelfloop,
		MaxIterations: maxIterations,
	}
	if err := s.store.CreateTask(task); err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	job := &model.Job{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		MissionID: mission.ID,
		Kind:      model.KindSelfloop,
		Payload: model.Payload{
			Task: model.TaskDescriptor{
				ID:        task.ID,
				MissionID: mission.ID,
				Name:      task.Name,
				Kind:      task.Kind,
			},
			Params: map[string]any{
				"goal": req.Goal,
				"loop_state": map[string]any{
					"iteration":   1,
					"constraints": map[string]any{"goal": req.Goal},
				},
			},
			ResponseFormat: "selfloop_markdown",
		},
		TraceID: uuid.NewString(),
	}
	if err := s.store.CreateJob(job); err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"mission": mission, "task": task, "job": job})
}
