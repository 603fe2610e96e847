package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/codex-orchestrator/web/api"
)

// followLog prints entries of a run as the server streams them until ctx ends
// or the server closes the connection.
func (c *client) followLog(ctx context.Context, taskID, runID string, w io.Writer) error {
	path := taskPath(taskID, "logs", "ws")
	if runID != "" {
		path += "?runId=" + url.QueryEscape(runID)
	}
	target, err := c.wsURL(path)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(w, msg.Entry.Raw); err != nil {
			return err
		}
	}
}
