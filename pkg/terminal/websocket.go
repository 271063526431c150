package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aisu-os/core/pkg/auth"
	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/manager"
	"github.com/aisu-os/core/pkg/metrics"
	"github.com/aisu-os/core/pkg/runtime"
	"github.com/aisu-os/core/pkg/types"
)

const (
	// readChunkSize is the container-side read buffer.
	readChunkSize = 4096

	// readyTimeout bounds the post-provision readiness poll.
	readyTimeout = 5 * time.Second

	// settleDelay gives a freshly provisioned container a moment to finish
	// its init before the shell attaches.
	settleDelay = 500 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// controlFrame is a JSON text message on the transport.
type controlFrame struct {
	Type string `json:"type"`
	Rows uint   `json:"rows"`
	Cols uint   `json:"cols"`
}

// Handler upgrades terminal WebSocket connections and runs sessions.
type Handler struct {
	auth    *auth.Service
	manager *manager.Manager
	runtime runtime.Runtime
}

// NewHandler creates the terminal WebSocket handler.
func NewHandler(authSvc *auth.Service, mgr *manager.Manager, rt runtime.Runtime) *Handler {
	return &Handler{auth: authSvc, manager: mgr, runtime: rt}
}

// wsConn serializes writes; the two pumps and error reporting all write.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) writeClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// ServeHTTP drives one terminal session over a WebSocket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("terminal")

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	user, err := h.auth.UserFromToken(auth.ExtractToken(r))
	if err != nil {
		conn.writeClose(websocket.ClosePolicyViolation, "authentication failed")
		return
	}
	logger = log.WithUserID(user.ID.String())

	ctx := r.Context()
	containerName := types.ContainerName(user.ID)

	_ = conn.writeJSON(map[string]string{"type": "status", "status": "starting-container"})

	provisioned, err := h.manager.EnsureRunning(ctx, user)
	if err != nil {
		logger.Error().Err(err).Msg("container failed to start for terminal")
		_ = conn.writeJSON(map[string]string{"type": "error", "message": "Container failed to start"})
		return
	}
	if provisioned {
		if err := h.manager.WaitReady(ctx, user.ID, readyTimeout); err != nil {
			logger.Error().Err(err).Msg("container not ready after provisioning")
			_ = conn.writeJSON(map[string]string{"type": "error", "message": "Container failed to become ready"})
			return
		}
		time.Sleep(settleDelay)
	}

	session := NewSession(h.runtime, containerName, manager.ContainerUser, "")
	if err := session.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start terminal session")
		_ = conn.writeJSON(map[string]string{"type": "error", "message": "Failed to create terminal session"})
		return
	}
	defer session.Close()

	h.manager.TouchActivity(user.ID)
	metrics.TerminalSessionsActive.Inc()
	defer metrics.TerminalSessionsActive.Dec()

	_ = conn.writeJSON(map[string]string{"type": "ready", "sessionId": session.SessionID})

	// Two pumps; the first to exit cancels the other and tears down. The
	// screen session persists across the teardown.
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan string, 2)

	go func() {
		h.containerToTransport(pumpCtx, session, conn, containerName)
		done <- "read"
	}()
	go func() {
		h.transportToContainer(pumpCtx, session, conn)
		done <- "write"
	}()

	which := <-done
	logger.Debug().Str("pump", which).Msg("terminal pump finished, tearing down")
	cancel()
	session.Close()
}

// containerToTransport pumps container output to the client. On EOF it
// inspects the container to attribute the close.
func (h *Handler) containerToTransport(ctx context.Context, session *Session, conn *wsConn, containerName string) {
	buf := make([]byte, readChunkSize)
	for !session.IsClosed() {
		n, err := session.Read(buf)
		if err != nil || n == 0 {
			if ctx.Err() == nil && !session.IsClosed() {
				reason := h.attributeEOF(ctx, containerName)
				_ = conn.writeJSON(map[string]string{"type": "error", "message": reason})
			}
			return
		}
		if err := conn.writeBinary(buf[:n]); err != nil {
			return
		}
	}
}

// attributeEOF distinguishes a stopped container from a plain exec EOF and
// folds in the container's last log lines.
func (h *Handler) attributeEOF(ctx context.Context, containerName string) string {
	inspectCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	state, err := h.runtime.Inspect(inspectCtx, containerName)
	if err != nil || state.Running {
		return "Terminal stream closed"
	}

	logs, _ := h.runtime.Logs(inspectCtx, containerName, 3)
	return fmt.Sprintf("Container stopped (%s): %s", state.Status, logs)
}

// transportToContainer pumps client messages in: binary is raw input, a JSON
// text frame of type "resize" resizes the terminal, and any other text is
// UTF-8 input.
func (h *Handler) transportToContainer(ctx context.Context, session *Session, conn *wsConn) {
	for !session.IsClosed() {
		msgType, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := session.Write(data); err != nil {
				return
			}
		case websocket.TextMessage:
			var frame controlFrame
			if jerr := json.Unmarshal(data, &frame); jerr == nil && frame.Type == "resize" {
				rows, cols := frame.Rows, frame.Cols
				if rows == 0 {
					rows = 24
				}
				if cols == 0 {
					cols = 80
				}
				_ = session.Resize(ctx, rows, cols)
				continue
			}
			if err := session.Write(data); err != nil {
				return
			}
		}
	}
}
