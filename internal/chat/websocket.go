package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/ashureev/fitbot/internal/domain"
	"github.com/ashureev/fitbot/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// replayLimit bounds the history frame sent after connect. The in-memory
// window is seeded with the newest HistoryWindow of these.
const replayLimit = 50

var clientIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// wsFrame is the server→client message envelope.
//
// Types: "history" (replay after connect), "message" (complete assistant
// message), "stream" (incremental delta), "stream_end" (assembled reply).
type wsFrame struct {
	Type     string        `json:"type"`
	Role     string        `json:"role,omitempty"`
	Content  string        `json:"content,omitempty"`
	Delta    string        `json:"delta,omitempty"`
	Messages []domain.Turn `json:"messages,omitempty"`
}

// WebSocketHandler serves the /ws/{client_id} chat endpoint. WebSocket
// sessions skip the auth handshake: the caller supplies the client_id and
// history always persists.
type WebSocketHandler struct {
	repo     store.Repository
	engine   *Engine
	registry *Registry
}

// NewWebSocketHandler creates the WebSocket chat handler.
func NewWebSocketHandler(repo store.Repository, engine *Engine, registry *Registry) *WebSocketHandler {
	return &WebSocketHandler{repo: repo, engine: engine, registry: registry}
}

// ServeHTTP upgrades the connection and runs the per-connection loop.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	// The default read limit (32 KiB) would kill the connection with 1009
	// before the MaxMessageLen check can reject oversized input. Match the
	// TCP scanner's 1 MiB bound and let the engine reply instead.
	ws.SetReadLimit(1 << 20)

	if !clientIDPattern.MatchString(clientID) {
		slog.Warn("WebSocket rejected: invalid client_id", "client_id", clientID, "ip", r.RemoteAddr)
		_ = ws.Close(websocket.StatusPolicyViolation, "invalid client_id")
		return
	}
	slog.Info("WebSocket client connected", "client_id", clientID, "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := NewSession(clientID, true)
	sess.Authenticated = true
	connID := h.registry.Connect(sess)
	defer h.registry.Disconnect(connID)

	sink := &wsSink{ws: ws, ctx: ctx}

	if err := h.repo.UpsertSession(ctx, clientID); err != nil {
		slog.Warn("failed to upsert session", "client_id", clientID, "error", err)
	}
	h.replayHistory(ctx, sess, sink)

	if err := sink.Notify(h.engine.Welcome()); err != nil {
		return
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Info("WebSocket closed by client", "client_id", clientID)
			} else {
				slog.Warn("WebSocket read error", "client_id", clientID, "error", err)
			}
			return
		}

		open, err := h.engine.HandleLine(ctx, sess, string(data), sink)
		if err != nil {
			slog.Warn("WebSocket session failed", "client_id", clientID, "error", err)
			return
		}
		if !open {
			return
		}
	}
}

// replayHistory restores durable history into the window and sends the
// history frame when prior turns exist. Store failures degrade to an empty
// conversation.
func (h *WebSocketHandler) replayHistory(ctx context.Context, sess *Session, sink *wsSink) {
	history, err := h.repo.GetHistory(ctx, sess.ClientID, replayLimit)
	if err != nil {
		slog.Warn("failed to load history", "client_id", sess.ClientID, "error", err)
		return
	}
	if len(history) == 0 {
		return
	}
	sess.Seed(history)
	if err := sink.write(wsFrame{Type: "history", Messages: history}); err != nil {
		slog.Debug("failed to send history frame", "client_id", sess.ClientID, "error", err)
	}
}

// wsSink renders engine output as JSON frames on one WebSocket connection.
type wsSink struct {
	ws  *websocket.Conn
	ctx context.Context
}

func (s *wsSink) Notify(content string) error {
	return s.write(wsFrame{Type: "message", Role: domain.RoleAssistant, Content: content})
}

func (s *wsSink) Delta(delta string) error {
	return s.write(wsFrame{Type: "stream", Delta: delta})
}

func (s *wsSink) Final(content string) error {
	return s.write(wsFrame{Type: "stream_end", Content: content})
}

func (s *wsSink) write(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.ws.Write(s.ctx, websocket.MessageText, data)
}
