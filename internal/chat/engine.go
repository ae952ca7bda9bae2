package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/fitbot/internal/domain"
	"github.com/ashureev/fitbot/internal/llm"
	"github.com/ashureev/fitbot/internal/store"
)

// MaxMessageLen is the maximum accepted inbound message length in runes.
// Longer input is rejected without touching history or the provider.
const MaxMessageLen = 4000

// workoutHistoryLimit caps the /history listing.
const workoutHistoryLimit = 10

// Fallback replaces the assistant turn when the provider yields nothing.
// Every user turn receives exactly one assistant turn.
const Fallback = "No pude generar respuesta ahora. Intentá nuevamente."

// MsgOversize is the correction sent for input longer than MaxMessageLen.
// Also used by the TCP pre-auth path so the reply reads the same in every
// state.
const MsgOversize = "Tu mensaje es muy largo. Por favor resumilo (máx. 4000 caracteres)."

// User-visible command replies.
const (
	msgLogUsage       = "Uso: /log <actividad>\nEjemplo: /log pushups 3x10"
	msgLogFailed      = "No pude guardar el registro ahora. Intentá más tarde."
	msgNoWorkouts     = "No tenés registros aún. Usá /log para agregar."
	msgWorkoutsFailed = "No pude leer tus registros ahora. Intentá más tarde."
	msgCleared        = "Conversación borrada."
	msgClearFailed    = "No pude borrar el historial. Intentá más tarde."
	msgFarewell       = "¡Hasta la próxima! 💪"
	msgUnknownCommand = "Comando desconocido. Disponibles: /log, /history, /reset, /quit."
)

// Sink delivers engine output to one connection. Implementations render for
// their transport: JSON frames over WebSocket, ANSI lines over TCP.
type Sink interface {
	// Notify sends a complete assistant-role message (command replies,
	// corrections, the welcome text).
	Notify(content string) error
	// Delta sends one incremental completion fragment.
	Delta(delta string) error
	// Final sends the fully assembled assistant reply after the last delta.
	Final(content string) error
}

// Engine drives one session's turns: command dispatch, provider streaming
// and persistence. It holds no per-connection state; handlers own their
// Session and call HandleLine serially, so a new message is never processed
// before the previous reply is finalized.
type Engine struct {
	repo         store.Repository
	provider     llm.Streamer
	systemPrompt string
	welcome      string
	timeout      time.Duration
}

// NewEngine creates a turn engine. The welcome text is transport-specific
// and re-sent after /reset.
func NewEngine(repo store.Repository, provider llm.Streamer, welcome string, timeout time.Duration) *Engine {
	return &Engine{
		repo:         repo,
		provider:     provider,
		systemPrompt: llm.SystemPrompt,
		welcome:      welcome,
		timeout:      timeout,
	}
}

// Welcome returns the greeting sent on connect and after /reset.
func (e *Engine) Welcome() string {
	return e.welcome
}

// HandleLine processes one inbound line for an active session. It returns
// false when the connection should close (/quit). A non-nil error means the
// connection itself failed (write error, cancellation) and must be torn
// down; user-level problems are reported through the sink instead.
func (e *Engine) HandleLine(ctx context.Context, sess *Session, line string, sink Sink) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return true, nil
	}

	if utf8.RuneCountInString(line) > MaxMessageLen {
		return true, sink.Notify(MsgOversize)
	}

	if strings.HasPrefix(line, "/") {
		return e.handleCommand(ctx, sess, line, sink)
	}

	return true, e.chatTurn(ctx, sess, line, sink)
}

// handleCommand dispatches on the first whitespace-delimited token,
// lowercased and matched exactly.
func (e *Engine) handleCommand(ctx context.Context, sess *Session, line string, sink Sink) (bool, error) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch cmd {
	case "/log":
		return true, e.logWorkout(ctx, sess, args, sink)
	case "/history":
		return true, e.listWorkouts(ctx, sess, sink)
	case "/reset", "/clear":
		return true, e.reset(ctx, sess, sink)
	case "/quit", "/exit":
		return false, sink.Notify(msgFarewell)
	default:
		return true, sink.Notify(msgUnknownCommand)
	}
}

func (e *Engine) logWorkout(ctx context.Context, sess *Session, entry string, sink Sink) error {
	if entry == "" {
		return sink.Notify(msgLogUsage)
	}
	if err := e.repo.LogWorkout(ctx, sess.ClientID, entry); err != nil {
		slog.Error("failed to log workout", "client_id", sess.ClientID, "error", err)
		return sink.Notify(msgLogFailed)
	}
	return sink.Notify("Registro guardado: " + entry)
}

func (e *Engine) listWorkouts(ctx context.Context, sess *Session, sink Sink) error {
	workouts, err := e.repo.GetWorkouts(ctx, sess.ClientID, workoutHistoryLimit)
	if err != nil {
		slog.Error("failed to fetch workouts", "client_id", sess.ClientID, "error", err)
		return sink.Notify(msgWorkoutsFailed)
	}
	if len(workouts) == 0 {
		return sink.Notify(msgNoWorkouts)
	}

	lines := make([]string, 0, len(workouts)+1)
	lines = append(lines, "Últimos registros:")
	for _, w := range workouts {
		lines = append(lines, fmt.Sprintf("- %s: %s", w.CreatedAt.Format("2006-01-02 15:04"), w.Entry))
	}
	return sink.Notify(strings.Join(lines, "\n"))
}

func (e *Engine) reset(ctx context.Context, sess *Session, sink Sink) error {
	sess.Reset()
	if sess.Persist {
		if err := e.repo.ClearHistory(ctx, sess.ClientID); err != nil {
			slog.Error("failed to clear history", "client_id", sess.ClientID, "error", err)
			return sink.Notify(msgClearFailed)
		}
	}
	if err := sink.Notify(msgCleared); err != nil {
		return err
	}
	return sink.Notify(e.welcome)
}

// chatTurn relays one user message to the provider and streams the reply
// back to the owning connection's sink.
func (e *Engine) chatTurn(ctx context.Context, sess *Session, message string, sink Sink) error {
	sess.Remember(domain.RoleUser, message)
	e.persist(ctx, sess, domain.RoleUser, message)

	reply, err := e.generate(ctx, sess.Prompt(e.systemPrompt), sink)
	if err != nil {
		// Connection-level failure: abandon the turn, persist nothing.
		return err
	}

	if err := sink.Final(reply); err != nil {
		return err
	}
	sess.Remember(domain.RoleAssistant, reply)
	e.persist(ctx, sess, domain.RoleAssistant, reply)
	return nil
}

// persist writes a turn to the durable store when the session persists.
// Store failures are logged, never surfaced; the chat continues in memory.
func (e *Engine) persist(ctx context.Context, sess *Session, role, content string) {
	if !sess.Persist {
		return
	}
	if err := e.repo.AppendMessage(ctx, sess.ClientID, role, content); err != nil {
		slog.Warn("failed to persist turn", "client_id", sess.ClientID, "role", role, "error", err)
	}
}

type fragment struct {
	delta string
	err   error
}

// generate runs the provider stream in a worker goroutine and hands
// fragments back to the connection's own task over a channel, so provider
// I/O never blocks other connections and never mutates session state from
// another goroutine. Whatever arrived before a provider failure is kept;
// the fallback is substituted only when nothing arrived at all. The returned
// error is non-nil only for sink (connection) failures.
func (e *Engine) generate(ctx context.Context, prompt []llm.Message, sink Sink) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	fragments := make(chan fragment, 16)
	go func() {
		defer close(fragments)
		for delta, err := range e.provider.Stream(ctx, prompt) {
			select {
			case fragments <- fragment{delta: delta, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var assembled strings.Builder
	for f := range fragments {
		if f.err != nil {
			slog.Error("provider stream failed", "error", f.err)
			break
		}
		if f.delta == "" {
			continue
		}
		assembled.WriteString(f.delta)
		if err := sink.Delta(f.delta); err != nil {
			cancel() // abandon the in-flight stream
			return "", err
		}
	}

	reply := strings.TrimSpace(assembled.String())
	if reply == "" {
		reply = Fallback
	}
	return reply, nil
}
