package chat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/fitbot/internal/domain"
	"github.com/ashureev/fitbot/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

func newTestWSServer(t *testing.T, provider *stubProvider) (*httptest.Server, *store.MemoryStore, *Registry) {
	t.Helper()

	repo := store.NewMemory()
	registry := NewRegistry()
	engine := NewEngine(repo, provider, testWelcome, 5*time.Second)
	handler := NewWebSocketHandler(repo, engine, registry)

	r := chi.NewRouter()
	r.Get("/ws/{client_id}", handler.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo, registry
}

func dialWS(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + clientID
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) wsFrame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("failed to decode frame %q: %v", data, err)
	}
	return frame
}

func writeText(t *testing.T, ws *websocket.Conn, text string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ws.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		t.Fatalf("failed to write %q: %v", text, err)
	}
}

func TestWebSocketRejectsInvalidClientID(t *testing.T) {
	srv, _, registry := newTestWSServer(t, &stubProvider{})

	for _, clientID := range []string{"UPPERCASE", "has.dot", strings.Repeat("x", 65)} {
		ws := dialWS(t, srv, clientID)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := ws.Read(ctx)
		cancel()
		if err == nil {
			t.Fatalf("%q: expected close, got a frame", clientID)
		}
		if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
			t.Errorf("%q: expected close status %d, got %d (%v)",
				clientID, websocket.StatusPolicyViolation, status, err)
		}
	}

	if registry.Count() != 0 {
		t.Errorf("rejected connections must not be registered, got %d", registry.Count())
	}
}

func TestWebSocketWelcomeAndStreaming(t *testing.T) {
	provider := &stubProvider{fragments: []string{"Hola", "!"}}
	srv, repo, _ := newTestWSServer(t, provider)

	ws := dialWS(t, srv, "web-tester")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	welcome := readFrame(t, ws)
	if welcome.Type != "message" || welcome.Role != domain.RoleAssistant || welcome.Content != testWelcome {
		t.Fatalf("expected welcome message frame, got %+v", welcome)
	}

	writeText(t, ws, "hola")

	var deltas []string
	for {
		frame := readFrame(t, ws)
		if frame.Type == "stream" {
			deltas = append(deltas, frame.Delta)
			continue
		}
		if frame.Type != "stream_end" {
			t.Fatalf("expected stream/stream_end frames, got %+v", frame)
		}
		if frame.Content != "Hola!" {
			t.Errorf("expected assembled reply in stream_end, got %q", frame.Content)
		}
		break
	}
	if strings.Join(deltas, "") != "Hola!" {
		t.Errorf("expected deltas to assemble the reply, got %v", deltas)
	}

	// Both turns are persisted under the path client_id.
	waitForHistory(t, repo, "web-tester", 2)
}

func TestWebSocketOversizeMessageKeepsConnectionOpen(t *testing.T) {
	// Well past the transport's former 32 KiB read limit; the engine's
	// rune-count check must be the one to reject it.
	provider := &stubProvider{fragments: []string{"Hola", "!"}}
	srv, _, _ := newTestWSServer(t, provider)

	ws := dialWS(t, srv, "long-winded")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	_ = readFrame(t, ws) // welcome
	writeText(t, ws, strings.Repeat("a", 40_000))

	rejection := readFrame(t, ws)
	if rejection.Type != "message" || rejection.Content != MsgOversize {
		t.Fatalf("expected oversize correction frame, got %+v", rejection)
	}

	// The connection survives and the next turn streams normally.
	writeText(t, ws, "hola")
	for {
		frame := readFrame(t, ws)
		if frame.Type == "stream" {
			continue
		}
		if frame.Type != "stream_end" || frame.Content != "Hola!" {
			t.Fatalf("expected a streamed reply after the rejection, got %+v", frame)
		}
		break
	}
}

func TestWebSocketReplaysHistory(t *testing.T) {
	provider := &stubProvider{}
	srv, repo, _ := newTestWSServer(t, provider)

	ctx := context.Background()
	if err := repo.AppendMessage(ctx, "returning", domain.RoleUser, "hola"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := repo.AppendMessage(ctx, "returning", domain.RoleAssistant, "¡hola!"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	ws := dialWS(t, srv, "returning")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	history := readFrame(t, ws)
	if history.Type != "history" {
		t.Fatalf("expected history frame first, got %+v", history)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 replayed turns, got %d", len(history.Messages))
	}
	if history.Messages[0].Role != domain.RoleUser || history.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("replay must be chronological, got %+v", history.Messages)
	}

	welcome := readFrame(t, ws)
	if welcome.Type != "message" {
		t.Errorf("expected welcome after history, got %+v", welcome)
	}
}

func TestWebSocketQuitClosesConnection(t *testing.T) {
	srv, _, registry := newTestWSServer(t, &stubProvider{})

	ws := dialWS(t, srv, "quitter")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	_ = readFrame(t, ws) // welcome
	writeText(t, ws, "/quit")

	farewell := readFrame(t, ws)
	if farewell.Type != "message" {
		t.Fatalf("expected farewell frame, got %+v", farewell)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := ws.Read(ctx); err == nil {
		t.Errorf("expected the server to close after /quit")
	}

	waitForCount(t, registry, 0)
}

// waitForHistory polls the store until the client has n persisted turns. The
// handler persists after sending stream_end, so the test may observe the
// frame first.
func waitForHistory(t *testing.T, repo *store.MemoryStore, clientID string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		history, err := repo.GetHistory(context.Background(), clientID, n+1)
		if err != nil {
			t.Fatalf("GetHistory failed: %v", err)
		}
		if len(history) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("history for %q never reached %d turns", clientID, n)
}

// waitForCount polls the registry until the live-connection count settles.
func waitForCount(t *testing.T, registry *Registry, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry count never reached %d, at %d", n, registry.Count())
}
