package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/codex-orchestrator/internal/taskstore"
)

// CreateEnvRequest is the body of POST /api/envs
type CreateEnvRequest struct {
	RepoURL       string `json:"repoUrl"`
	DefaultBranch string `json:"defaultBranch"`
}

// CreateTaskRequest is the body of POST /api/tasks
type CreateTaskRequest struct {
	EnvID  string `json:"envId"`
	Ref    string `json:"ref"`
	Prompt string `json:"prompt"`
}

// ResumeRequest is the body of POST /api/tasks/:taskId/resume
type ResumeRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) listEnvs(c *gin.Context) {
	envs, err := s.svc.ListEnvironments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, envs)
}

func (s *Server) createEnv(c *gin.Context) {
	var req CreateEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.RepoURL) == "" || strings.TrimSpace(req.DefaultBranch) == "" {
		badRequest(c, "repoUrl and defaultBranch are required")
		return
	}
	env, err := s.svc.CreateEnvironment(c.Request.Context(), req.RepoURL, req.DefaultBranch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, env)
}

func (s *Server) deleteEnv(c *gin.Context) {
	if err := s.svc.DeleteEnvironment(c.Request.Context(), c.Param("envId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTasks(c *gin.Context) {
	opts := taskstore.ListOptions{
		EnvID:  c.Query("envId"),
		Status: domain.Status(c.Query("status")),
	}
	if opts.Status != "" && !opts.Status.Valid() {
		badRequest(c, "unknown status "+string(opts.Status))
		return
	}
	tasks, err := s.svc.ListTasks(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) createTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.EnvID == "" || strings.TrimSpace(req.Prompt) == "" {
		badRequest(c, "envId and prompt are required")
		return
	}
	task, err := s.svc.CreateTask(c.Request.Context(), orchestrator.CreateTaskRequest{
		EnvID:  req.EnvID,
		Ref:    req.Ref,
		Prompt: req.Prompt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) getTask(c *gin.Context) {
	detail, err := s.svc.GetTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.svc.DeleteTask(c.Request.Context(), c.Param("taskId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resumeTask(c *gin.Context) {
	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(c, "prompt is required")
		return
	}
	task, err := s.svc.ResumeTask(c.Request.Context(), c.Param("taskId"), req.Prompt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) stopTask(c *gin.Context) {
	task, err := s.svc.StopTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) pushTask(c *gin.Context) {
	task, err := s.svc.PushTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pushed": true, "branchName": task.BranchName})
}

func (s *Server) taskDiff(c *gin.Context) {
	diff, err := s.svc.TaskDiff(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

func (s *Server) runLogs(c *gin.Context) {
	logs, err := s.svc.RunLogs(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) imageInfo(c *gin.Context) {
	info, err := s.svc.ImageInfo(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) pullImage(c *gin.Context) {
	info, err := s.svc.PullImage(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
