// Package api serves the orchestrator over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/image"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/logstream"
	"github.com/hochfrequenz/codex-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/codex-orchestrator/internal/taskstore"
	"github.com/hochfrequenz/codex-orchestrator/internal/worktree"
)

// Service is the orchestrator surface exposed over HTTP
type Service interface {
	CreateEnvironment(ctx context.Context, repoURL, defaultBranch string) (*domain.Environment, error)
	ListEnvironments(ctx context.Context) ([]*domain.Environment, error)
	DeleteEnvironment(ctx context.Context, envID string) error

	CreateTask(ctx context.Context, req orchestrator.CreateTaskRequest) (*domain.Task, error)
	ListTasks(ctx context.Context, opts taskstore.ListOptions) ([]*domain.Task, error)
	GetTask(ctx context.Context, taskID string) (*orchestrator.TaskDetail, error)
	ResumeTask(ctx context.Context, taskID, prompt string) (*domain.Task, error)
	StopTask(ctx context.Context, taskID string) (*domain.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	PushTask(ctx context.Context, taskID string) (*domain.Task, error)
	TaskDiff(ctx context.Context, taskID string) (*worktree.DiffSummary, error)

	RunLogs(ctx context.Context, taskID string) ([]orchestrator.RunLog, error)
	StreamLog(ctx context.Context, taskID, runID string) (string, <-chan logstream.Entry, error)

	ImageInfo(ctx context.Context) (image.Info, error)
	PullImage(ctx context.Context) (image.Info, error)
}

// Server is the HTTP API server
type Server struct {
	svc    Service
	log    *logger.Logger
	router *gin.Engine
	http   *http.Server

	// streams end when baseCtx is cancelled; Shutdown alone waits for them
	baseCtx    context.Context
	cancelBase context.CancelFunc
	keepAlive  time.Duration
}

// NewServer creates a new API server listening on addr
func NewServer(svc Service, addr string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		svc:       svc,
		log:       log.WithComponent("api"),
		router:    gin.New(),
		keepAlive: 15 * time.Second,
	}
	s.router.Use(gin.Recovery(), requestLogger(s.log), corsMiddleware())
	s.setupRoutes()
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router.Group("/api")

	r.GET("/health", s.health)

	r.GET("/envs", s.listEnvs)
	r.POST("/envs", s.createEnv)
	r.DELETE("/envs/:envId", s.deleteEnv)

	r.GET("/tasks", s.listTasks)
	r.POST("/tasks", s.createTask)
	r.GET("/tasks/:taskId", s.getTask)
	r.DELETE("/tasks/:taskId", s.deleteTask)
	r.POST("/tasks/:taskId/resume", s.resumeTask)
	r.POST("/tasks/:taskId/stop", s.stopTask)
	r.POST("/tasks/:taskId/push", s.pushTask)
	r.GET("/tasks/:taskId/diff", s.taskDiff)
	r.GET("/tasks/:taskId/logs", s.runLogs)
	r.GET("/tasks/:taskId/logs/stream", s.streamSSE)
	r.GET("/tasks/:taskId/logs/ws", s.streamWS)

	r.GET("/settings/image", s.imageInfo)
	r.POST("/settings/image/pull", s.pullImage)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info("listening on " + s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	return s.http.Shutdown(ctx)
}
