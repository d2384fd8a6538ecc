// Package api is the mesh's HTTP surface: missions/tasks/jobs, the mesh
// worker registry, system-state control, and the Why-API. Every error
// response goes through the shared {ok:false, error, detail?} envelope.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheratan/mesh/pkg/config"
	"github.com/sheratan/mesh/pkg/decisionjournal"
	"github.com/sheratan/mesh/pkg/dispatcher"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/registry"
	"github.com/sheratan/mesh/pkg/statemachine"
	"github.com/sheratan/mesh/pkg/store"
)

// Server holds every collaborator the HTTP handlers need.
type Server struct {
	store   *store.Store
	reg     *registry.Registry
	disp    *dispatcher.Dispatcher
	inbox   *queue.Inbox
	journal *decisionjournal.Journal
	sm      *statemachine.StateMachine
	cfg     *config.Config
	logger  *slog.Logger
}

// NewServer builds a Server wired to the core's running collaborators.
func NewServer(
	st *store.Store,
	reg *registry.Registry,
	disp *dispatcher.Dispatcher,
	inbox *queue.Inbox,
	journal *decisionjournal.Journal,
	sm *statemachine.StateMachine,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, reg: reg, disp: disp, inbox: inbox, journal: journal, sm: sm, cfg: cfg, logger: logger}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	r.POST("/api/missions", s.createMission)
	r.GET("/api/missions", s.listMissions)
	r.GET("/api/missions/:mid", s.getMission)
	r.POST("/api/missions/:mid/tasks", s.createTask)
	r.POST("/api/tasks/:tid/jobs", s.createJob)
	r.POST("/api/jobs/:jid/dispatch", s.dispatchJob)
	r.GET("/api/jobs/:jid", s.getJob)
	r.POST("/api/jobs/:jid/cancel", s.cancelJob)
	r.POST("/api/jobs/:jid/sync", s.syncJobResult)

	r.POST("/api/selfloop/create", s.createSelfloop)

	r.POST("/api/mesh/workers/register", s.registerWorker)
	r.GET("/api/mesh/workers", s.listWorkers)

	r.GET("/api/system/state", s.getSystemState)
	r.POST("/api/system/state/transition", s.postSystemTransition)
	r.GET("/api/system/state/history", s.getSystemStateHistory)
	r.GET("/api/system/health", s.getSystemHealth)

	r.GET("/api/why/latest", s.whyLatest)
	r.GET("/api/why/trace/:trace_id", s.whyTrace)
	r.GET("/api/why/job/:job_id", s.whyJob)
	r.GET("/api/why/stats", s.whyStats)

	return r
}

// errEnvelope is the error shape every handler returns.
type errEnvelope struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

func fail(c *gin.Context, status int, msg string, detail any) {
	c.JSON(status, errEnvelope{OK: false, Error: msg, Detail: detail})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// checkBackpressure returns true and writes a 503 response when the inbox
// is at or past configured capacity, pushing back on submitters instead of
// letting the queue directory grow without bound.
func (s *Server) checkBackpressure(c *gin.Context) bool {
	depth, err := s.inbox.Depth()
	if err != nil {
		fail(c, http.StatusInternalServerError, "inbox depth check failed", nil)
		return true
	}
	if depth >= s.cfg.MaxInboxDepth {
		fail(c, http.StatusServiceUnavailable, "inbox at capacity", gin.H{"depth": depth, "max": s.cfg.MaxInboxDepth})
		return true
	}
	return false
}

func dispatchNow(ctx context.Context, disp *dispatcher.Dispatcher) {
	tickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	disp.Tick(tickCtx)
}
