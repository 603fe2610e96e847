package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/image"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/logstream"
	"github.com/hochfrequenz/codex-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/codex-orchestrator/internal/taskstore"
	"github.com/hochfrequenz/codex-orchestrator/internal/worktree"
)

type mockService struct {
	tasks     map[string]*domain.Task
	envs      []*domain.Environment
	createErr error
	resumeErr error
	stopErr   error
	imageErr  error
	entries   []logstream.Entry
	lastOpts  taskstore.ListOptions
}

func newMockService() *mockService {
	return &mockService{tasks: map[string]*domain.Task{}}
}

func (m *mockService) CreateEnvironment(_ context.Context, repoURL, branch string) (*domain.Environment, error) {
	env := &domain.Environment{EnvID: "env-1", RepoURL: repoURL, DefaultBranch: branch}
	m.envs = append(m.envs, env)
	return env, nil
}

func (m *mockService) ListEnvironments(context.Context) ([]*domain.Environment, error) {
	return m.envs, nil
}

func (m *mockService) DeleteEnvironment(_ context.Context, envID string) error {
	for i, e := range m.envs {
		if e.EnvID == envID {
			m.envs = append(m.envs[:i], m.envs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrEnvironmentNotFound, envID)
}

func (m *mockService) CreateTask(_ context.Context, req orchestrator.CreateTaskRequest) (*domain.Task, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	t := &domain.Task{TaskID: "t1", EnvID: req.EnvID, Status: domain.StatusRunning, InitialPrompt: req.Prompt}
	m.tasks[t.TaskID] = t
	return t, nil
}

func (m *mockService) ListTasks(_ context.Context, opts taskstore.ListOptions) ([]*domain.Task, error) {
	m.lastOpts = opts
	var out []*domain.Task
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockService) task(id string) (*domain.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return t, nil
}

func (m *mockService) GetTask(_ context.Context, id string) (*orchestrator.TaskDetail, error) {
	t, err := m.task(id)
	if err != nil {
		return nil, err
	}
	return &orchestrator.TaskDetail{Task: t, LogTail: "tail", RunLogs: []orchestrator.RunLog{}}, nil
}

func (m *mockService) ResumeTask(_ context.Context, id, prompt string) (*domain.Task, error) {
	if m.resumeErr != nil {
		return nil, m.resumeErr
	}
	t, err := m.task(id)
	if err != nil {
		return nil, err
	}
	t.LastPrompt = prompt
	return t, nil
}

func (m *mockService) StopTask(_ context.Context, id string) (*domain.Task, error) {
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return m.task(id)
}

func (m *mockService) DeleteTask(_ context.Context, id string) error {
	if _, err := m.task(id); err != nil {
		return err
	}
	delete(m.tasks, id)
	return nil
}

func (m *mockService) PushTask(_ context.Context, id string) (*domain.Task, error) {
	return m.task(id)
}

func (m *mockService) TaskDiff(_ context.Context, id string) (*worktree.DiffSummary, error) {
	if _, err := m.task(id); err != nil {
		return nil, err
	}
	return &worktree.DiffSummary{Base: "abc", Files: []worktree.FileStat{{Path: "a.txt", Status: "added", Added: 1}}, Added: 1}, nil
}

func (m *mockService) RunLogs(_ context.Context, id string) ([]orchestrator.RunLog, error) {
	if _, err := m.task(id); err != nil {
		return nil, err
	}
	return []orchestrator.RunLog{{RunID: "run-001", Entries: m.entries}}, nil
}

func (m *mockService) StreamLog(ctx context.Context, id, runID string) (string, <-chan logstream.Entry, error) {
	if _, err := m.task(id); err != nil {
		return "", nil, err
	}
	if runID != "" && runID != "run-001" {
		return "", nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	ch := make(chan logstream.Entry, len(m.entries))
	for _, e := range m.entries {
		ch <- e
	}
	close(ch)
	return "run-001", ch, nil
}

func (m *mockService) ImageInfo(context.Context) (image.Info, error) {
	return image.Info{ImageName: "img"}, m.imageErr
}

func (m *mockService) PullImage(context.Context) (image.Info, error) {
	return image.Info{ImageName: "img", Present: true}, m.imageErr
}

func newTestServer(svc *mockService) *Server {
	return NewServer(svc, "127.0.0.1:0", logger.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	w := do(t, newTestServer(newMockService()), "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestEnvs(t *testing.T) {
	svc := newMockService()
	s := newTestServer(svc)

	w := do(t, s, "POST", "/api/envs", `{"repoUrl":"git@example.com:repo.git","defaultBranch":"main"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var env domain.Environment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "main", env.DefaultBranch)

	w = do(t, s, "POST", "/api/envs", `{"repoUrl":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorBody(t, w), "defaultBranch")

	w = do(t, s, "GET", "/api/envs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"envId":"env-1"`)

	w = do(t, s, "DELETE", "/api/envs/env-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, "DELETE", "/api/envs/env-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTasks_CreateGetDelete(t *testing.T) {
	svc := newMockService()
	s := newTestServer(svc)

	w := do(t, s, "GET", "/api/tasks", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(t, s, "POST", "/api/tasks", `{"envId":"env-1","prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, "POST", "/api/tasks", `{"envId":"env-1","ref":"main","prompt":"Do work"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var task domain.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, domain.StatusRunning, task.Status)

	w = do(t, s, "GET", "/api/tasks/t1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "t1", detail["taskId"])
	assert.Equal(t, "tail", detail["logTail"])

	w = do(t, s, "GET", "/api/tasks?envId=env-1&status=running", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "env-1", svc.lastOpts.EnvID)
	assert.Equal(t, domain.StatusRunning, svc.lastOpts.Status)

	w = do(t, s, "GET", "/api/tasks?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, "DELETE", "/api/tasks/t1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, "GET", "/api/tasks/t1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, errorBody(t, w), "task not found")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(m *mockService)
		method string
		path   string
		body   string
		want   int
	}{
		{"ref not found", func(m *mockService) { m.createErr = &domain.RefNotFoundError{Ref: "nope"} },
			"POST", "/api/tasks", `{"envId":"e","prompt":"p"}`, http.StatusUnprocessableEntity},
		{"git failure", func(m *mockService) { m.createErr = fmt.Errorf("clone: %w", domain.ErrGitCommandFailed) },
			"POST", "/api/tasks", `{"envId":"e","prompt":"p"}`, http.StatusInternalServerError},
		{"not resumable", func(m *mockService) { m.resumeErr = &domain.NotResumableError{TaskID: "t1"} },
			"POST", "/api/tasks/t1/resume", `{"prompt":"go"}`, http.StatusConflict},
		{"resume without prompt", func(m *mockService) {},
			"POST", "/api/tasks/t1/resume", `{}`, http.StatusBadRequest},
		{"no running process", func(m *mockService) { m.stopErr = &domain.NoRunningProcessError{TaskID: "t1"} },
			"POST", "/api/tasks/t1/stop", "", http.StatusConflict},
		{"stop unknown task", func(m *mockService) {},
			"POST", "/api/tasks/zzz/stop", "", http.StatusNotFound},
		{"image disabled", func(m *mockService) { m.imageErr = orchestrator.ErrImageDisabled },
			"GET", "/api/settings/image", "", http.StatusServiceUnavailable},
		{"unknown run", func(m *mockService) {},
			"GET", "/api/tasks/t1/logs/stream?runId=run-404", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.tasks["t1"] = &domain.Task{TaskID: "t1", Status: domain.StatusCompleted}
			tt.setup(svc)
			w := do(t, newTestServer(svc), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, errorBody(t, w))
		})
	}
}

func TestTaskActions(t *testing.T) {
	svc := newMockService()
	svc.tasks["t1"] = &domain.Task{TaskID: "t1", BranchName: "codex/t1", Status: domain.StatusCompleted}
	s := newTestServer(svc)

	w := do(t, s, "POST", "/api/tasks/t1/resume", `{"prompt":"Continue"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Continue", svc.tasks["t1"].LastPrompt)

	w = do(t, s, "POST", "/api/tasks/t1/push", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pushed":true,"branchName":"codex/t1"}`, w.Body.String())

	w = do(t, s, "GET", "/api/tasks/t1/diff", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"path":"a.txt"`)

	w = do(t, s, "POST", "/api/settings/image/pull", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"present":true`)
}

func TestStreamSSE(t *testing.T) {
	svc := newMockService()
	svc.tasks["t1"] = &domain.Task{TaskID: "t1"}
	svc.entries = []logstream.Entry{logstream.ParseLine(3, `{"type":"turn.completed"}`)}

	w := do(t, newTestServer(svc), "GET", "/api/tasks/t1/logs/stream", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "), body)
	var msg StreamMessage
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(body, "data: "))), &msg))
	assert.Equal(t, "run-001", msg.RunID)
	assert.Equal(t, "log-3", msg.Entry.ID)
	assert.Equal(t, "turn.completed", msg.Entry.Type)
}

func TestStreamWebSocket(t *testing.T) {
	svc := newMockService()
	svc.tasks["t1"] = &domain.Task{TaskID: "t1"}
	svc.entries = []logstream.Entry{
		logstream.ParseLine(1, `{"type":"session.started","session_id":"abc"}`),
		logstream.ParseLine(2, "plain"),
	}

	ts := httptest.NewServer(newTestServer(svc).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/tasks/t1/logs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got []StreamMessage
	for i := 0; i < 2; i++ {
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		got = append(got, msg)
	}
	assert.Equal(t, "session.started", got[0].Entry.Type)
	assert.Equal(t, "text", got[1].Entry.Type)
	assert.Equal(t, "run-001", got[1].RunID)
}
