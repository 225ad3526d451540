package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/observability"
)

// CloseSessionNotFound is the close code sent when the session of a
// WebSocket request doesn't exist or is no longer live.
const CloseSessionNotFound = 4004

const (
	writeWait     = 10 * time.Second
	historyWindow = 10
)

// Command is a client request on the session WebSocket.
type Command struct {
	Command    string `json:"command"`
	StepID     string `json:"step_id,omitempty"`
	Path       string `json:"path,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// wsSession serves one client connection for one debug session.
type wsSession struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	id       string
	session  *flowdebug.DebugSession
	executor *flowdebug.FlowExecutor
	logger   *slog.Logger
	// execCtx outlives the request so a started execution keeps running
	// after the client disconnects.
	execCtx context.Context
}

func (s *Server) handleWebsocket(c *gin.Context) {
	id := c.Param("session_id")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	session := s.debugger.GetSession(id)
	executor := s.debugger.GetExecutor(id)
	if session == nil || executor == nil {
		reason := "Session not found"
		if session != nil {
			reason = "Executor not found"
		}
		closeWith(conn, CloseSessionNotFound, reason)
		return
	}

	ws := &wsSession{
		conn:     conn,
		id:       id,
		session:  session,
		executor: executor,
		logger:   s.logger.With(slog.String(observability.SessionIDKey, id)),
		execCtx:  context.WithoutCancel(c.Request.Context()),
	}
	release, err := s.debugger.BindExecutorCallback(id, ws.onStateChange)
	if err != nil {
		closeWith(conn, CloseSessionNotFound, "Executor not found")
		return
	}
	// A newer connection to the same session may have rebound the callback.
	defer release()

	ws.serve()
}

func (ws *wsSession) serve() {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Debug("websocket closed", slog.String("error", err.Error()))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			ws.send(gin.H{"type": "error", "message": "invalid command: " + err.Error()})
			continue
		}

		if stop := ws.handle(cmd); stop {
			closeWith(ws.conn, websocket.CloseNormalClosure, "stopped")
			return
		}
		ws.sendStateUpdate()
	}
}

// handle applies cmd and reports whether the connection should end.
func (ws *wsSession) handle(cmd Command) bool {
	switch cmd.Command {
	case "start":
		ws.start()
	case "continue":
		ws.executor.Resume()
	case "step":
		ws.executor.Step()
	case "pause":
		ws.executor.Pause()
	case "stop":
		ws.executor.Stop()
		return true
	case "add_breakpoint":
		if cmd.StepID != "" {
			ws.session.AddBreakpoint(cmd.StepID)
		}
	case "remove_breakpoint":
		if cmd.StepID != "" {
			ws.session.RemoveBreakpoint(cmd.StepID)
		}
	case "inspect":
		ws.send(gin.H{
			"type":  "inspection",
			"path":  cmd.Path,
			"value": ws.session.Inspect(cmd.Path),
		})
	case "query":
		ws.query(cmd.Expression)
	default:
		ws.logger.Debug("unknown websocket command", slog.String("command", cmd.Command))
	}
	return false
}

func (ws *wsSession) start() {
	if ws.executor.IsRunning() {
		ws.send(gin.H{"type": "error", "message": flowdebug.ErrAlreadyRunning.Error()})
		return
	}

	ws.send(gin.H{"type": "execution_started", "session_id": ws.id})
	initial := ws.session.Context()

	go func() {
		result, err := ws.executor.Execute(ws.execCtx, initial)
		switch {
		case errors.Is(err, flowdebug.ErrAlreadyRunning):
			ws.send(gin.H{"type": "error", "message": err.Error()})
		case err != nil:
			ws.send(gin.H{"type": "execution_error", "session_id": ws.id, "error": err.Error()})
		case ws.session.Status() == flowdebug.StatusStopped:
			ws.send(gin.H{"type": "execution_stopped", "session_id": ws.id, "context": result})
		default:
			ws.send(gin.H{"type": "execution_completed", "session_id": ws.id, "context": result})
		}
	}()
}

func (ws *wsSession) query(expression string) {
	ctx, cancel := context.WithTimeout(ws.execCtx, flowdebug.DefaultQueryTimeout)
	defer cancel()

	value, err := flowdebug.Query(ctx, ws.session.Context(), expression)
	if err != nil {
		ws.send(gin.H{"type": "error", "message": err.Error()})
		return
	}
	ws.send(gin.H{"type": "query_result", "expression": expression, "value": value})
}

func (ws *wsSession) onStateChange(_ context.Context, event string, data map[string]any) error {
	return ws.send(gin.H{
		"type":    event,
		"data":    data,
		"session": ws.session.Snapshot(),
	})
}

func (ws *wsSession) sendStateUpdate() {
	snap := ws.session.Snapshot()
	var current any
	if snap.CurrentStep != "" {
		current = snap.CurrentStep
	}
	ws.send(gin.H{
		"type":         "state_update",
		"session":      snap,
		"current_step": current,
		"context":      snap.Context,
		"status":       snap.Status,
		"history":      ws.session.RecentHistory(historyWindow),
	})
}

// send writes one message. Writes are serialized because executor events
// arrive from the execution goroutine.
func (ws *wsSession) send(msg gin.H) error {
	if _, ok := msg["timestamp"]; !ok {
		msg["timestamp"] = time.Now().UTC()
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ws.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := ws.conn.WriteJSON(msg); err != nil {
		ws.logger.Debug("websocket write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
