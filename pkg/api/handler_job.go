package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
)

// createJobRequest is the body for POST /api/tasks/{tid}/jobs.
type createJobRequest struct {
	Kind           model.JobKind  `json:"kind" binding:"required"`
	Params         map[string]any `json:"params"`
	ResponseFormat string         `json:"response_format"`
	Priority       int            `json:"priority"`
	DependsOn      []string       `json:"depends_on"`
}

func (s *Server) createJob(c *gin.Context) {
	taskID := c.Param("tid")
	if s.checkBackpressure(c) {
		return
	}

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !req.Kind.IsValid() {
		fail(c, http.StatusBadRequest, "invalid job kind", gin.H{"kind": req.Kind})
		return
	}

	task, err := s.store.GetTask(taskID)
	if err != nil {
		fail(c, http.StatusNotFound, err.Error(), nil)
		return
	}

	job := &model.Job{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		MissionID: task.MissionID,
		Kind:      req.Kind,
		Priority:  req.Priority,
		Payload: model.Payload{
			Task: model.TaskDescriptor{
				ID:        task.ID,
				MissionID: task.MissionID,
				Name:      task.Name,
				Kind:      task.Kind,
			},
			Params:         req.Params,
			ResponseFormat: req.ResponseFormat,
		},
		DependsOn: req.DependsOn,
		TraceID:   uuid.NewString(),
	}
	if err := s.store.CreateJob(job); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) dispatchJob(c *gin.Context) {
	jobID := c.Param("jid")
	job, err := s.store.GetJob(jobID)
	if err != nil {
		fail(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if job.Status != model.JobPending {
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": job.Status, "note": "job is not pending, dispatch skipped"})
		return
	}
	dispatchNow(c.Request.Context(), s.disp)

	updated, err := s.store.GetJob(jobID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.store.GetJob(c.Param("jid"))
	if err != nil {
		fail(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, job)
}

// cancelJob handles POST /api/jobs/{jid}/cancel: the job fails with reason
// "cancelled". Any in-flight worker result arriving afterwards is dropped
// by the terminal-state guard in the result path.
func (s *Server) cancelJob(c *gin.Context) {
	jobID := c.Param("jid")
	job, err := s.store.GetJob(jobID)
	if err != nil {
		fail(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if job.Status.IsTerminal() {
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": job.Status, "note": "job already terminal, cancel skipped"})
		return
	}
	updated, err := s.store.MutateJob(jobID, func(j *model.Job) error {
		j.Status = model.JobFailed
		j.ErrorReason = "cancelled"
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// syncJobResult handles POST /api/jobs/{jid}/sync, the HTTP alternative to
// a worker posting its result into the outbox. It shares
// result-application logic with the outbox drain path via
// dispatcher.ObserveResult, so both routes apply identical scoring,
// priors, and journal side effects.
func (s *Server) syncJobResult(c *gin.Context) {
	jobID := c.Param("jid")
	job, err := s.store.GetJob(jobID)
	if err != nil {
		fail(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if job.Status.IsTerminal() {
		// Re-posting a result for an already-terminal job is a no-op.
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": job.Status, "note": "job already terminal, ignoring duplicate result"})
		return
	}

	var result queue.Result
	if err := c.ShouldBindJSON(&result); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	result.JobID = jobID

	if err := s.disp.ObserveResult(c.Request.Context(), result); err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	updated, err := s.store.GetJob(jobID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, updated)
}
