package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/logstream"
)

// StreamMessage is one log entry delivered over SSE or websocket
type StreamMessage struct {
	RunID string          `json:"runId"`
	Entry logstream.Entry `json:"entry"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamSSE follows a run's log as server-sent events; only lines written after connecting are sent
func (s *Server) streamSSE(c *gin.Context) {
	ctx := c.Request.Context()
	taskID := c.Param("taskId")
	runID, entries, err := s.svc.StreamLog(ctx, taskID, c.Query("runId"))
	if err != nil {
		respondError(c, err)
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			w.Flush()
		case entry, ok := <-entries:
			if !ok {
				return
			}
			data, err := json.Marshal(StreamMessage{RunID: runID, Entry: entry})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()
		}
	}
}

// streamWS follows a run's log over a websocket, one JSON message per entry
func (s *Server) streamWS(c *gin.Context) {
	taskID := c.Param("taskId")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	runID, entries, err := s.svc.StreamLog(ctx, taskID, c.Query("runId"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("Failed to upgrade connection", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	defer conn.Close()
	log := s.log.WithTaskID(taskID).WithRunID(runID)
	log.Debug("websocket log stream opened")

	// the client never sends anything; reading detects when it goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case entry, ok := <-entries:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(StreamMessage{RunID: runID, Entry: entry}); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
