package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ashureev/fitbot/internal/chat"
	"github.com/ashureev/fitbot/internal/domain"
	"github.com/ashureev/fitbot/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// historyRestoreLimit bounds the history replayed after /login.
const historyRestoreLimit = chat.HistoryWindow

// Server accepts newline-delimited TCP chat connections. Each connection
// runs in its own goroutine and must authenticate (/register, /login or
// /guest) before chat lines are accepted.
type Server struct {
	addr     string
	repo     store.Repository
	engine   *chat.Engine
	registry *chat.Registry
}

// New creates a TCP chat server.
func New(addr string, repo store.Repository, engine *chat.Engine, registry *chat.Registry) *Server {
	return &Server{addr: addr, repo: repo, engine: engine, registry: registry}
}

// ListenAndServe accepts connections until ctx is cancelled, then closes the
// listener and waits for in-flight connections to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	slog.Info("TCP server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		if err := ln.Close(); err != nil {
			slog.Debug("failed to close listener", "error", err)
		}
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.HandleConn(ctx, conn)
		}()
	}

	wg.Wait()
	slog.Info("TCP server stopped")
	return nil
}

// HandleConn runs the per-connection loop. Exported so tests can drive it
// over an in-memory pipe.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	slog.Info("TCP client connected", "remote", remote)

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("failed to close connection", "remote", remote, "error", err)
		}
		slog.Info("TCP client disconnected", "remote", remote)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := chat.NewSession("", false)
	connID := s.registry.Connect(sess)
	defer s.registry.Disconnect(connID)

	sink := &lineSink{w: conn}
	if err := sink.lines(welcomeBanner, ""); err != nil {
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !sess.Authenticated {
			// Same oversize correction as authenticated input; the engine
			// only sees lines from active sessions.
			if utf8.RuneCountInString(line) > chat.MaxMessageLen {
				if err := sink.lines("", warn(chat.MsgOversize)); err != nil {
					return
				}
				continue
			}
			if err := s.handleAuth(ctx, sess, line, sink); err != nil {
				return
			}
			continue
		}

		open, err := s.engine.HandleLine(ctx, sess, line, sink)
		if err != nil {
			slog.Warn("TCP session failed", "remote", remote, "client_id", sess.ClientID, "error", err)
			return
		}
		if !open {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("TCP read error", "remote", remote, "error", err)
	}
}

// handleAuth processes one line while the session is unauthenticated. Auth
// failures keep the session unauthenticated for retry; only write errors
// are returned.
func (s *Server) handleAuth(ctx context.Context, sess *chat.Session, line string, sink *lineSink) error {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/guest":
		return s.activateGuest(sess, sink)
	case "/register":
		if len(fields) != 3 {
			return sink.lines("", warn("Uso: /register <usuario> <clave>"))
		}
		return s.registerUser(ctx, sess, fields[1], fields[2], sink)
	case "/login":
		if len(fields) != 3 {
			return sink.lines("", warn("Uso: /login <usuario> <clave>"))
		}
		return s.loginUser(ctx, sess, fields[1], fields[2], sink)
	default:
		return sink.lines("", authReminder)
	}
}

func (s *Server) activateGuest(sess *chat.Session, sink *lineSink) error {
	clientID, err := domain.NewClientID("tcp")
	if err != nil {
		slog.Error("failed to generate guest id", "error", err)
		return sink.lines("", fail("No pude iniciar el modo invitado. Intentá más tarde."))
	}

	sess.ClientID = clientID
	sess.Username = ""
	sess.Persist = false
	sess.Reset()
	sess.Authenticated = true

	return sink.lines("",
		success("Modo invitado activado. Esta conversación no se guardará."),
		info("Ya podés empezar a chatear."),
	)
}

func (s *Server) registerUser(ctx context.Context, sess *chat.Session, username, password string, sink *lineSink) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "username", username, "error", err)
		return sink.lines("", fail("No pude registrar el usuario ahora. Intentá más tarde."))
	}

	clientID, err := s.repo.RegisterUser(ctx, username, string(hash))
	if errors.Is(err, store.ErrUsernameTaken) {
		return sink.lines("", warn("Ese usuario ya existe. Probá con otro nombre o logueate con /login."))
	}
	if err != nil {
		slog.Error("failed to register user", "username", username, "error", err)
		return sink.lines("", fail("No pude registrar el usuario ahora. Intentá más tarde."))
	}

	sess.ClientID = clientID
	sess.Username = username
	sess.Persist = true
	sess.Reset()
	sess.Authenticated = true

	return sink.lines("",
		success("¡Bienvenido, "+username+"! Tu cuenta quedó creada."),
		info("Tus mensajes se guardarán. Usá /clear para borrar el historial cuando quieras."),
	)
}

func (s *Server) loginUser(ctx context.Context, sess *chat.Session, username, password string, sink *lineSink) error {
	rec, err := s.repo.GetUser(ctx, username)
	if err != nil {
		slog.Error("failed to look up user", "username", username, "error", err)
		return sink.lines("", fail("No pude verificar tus datos. Probá de nuevo más tarde."))
	}
	if rec == nil {
		return sink.lines("", warn("Usuario inexistente. Registrate con /register."))
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return sink.lines("", warn("Clave incorrecta. Intentá nuevamente."))
	}

	sess.ClientID = rec.ClientID
	sess.Username = username
	sess.Persist = true
	sess.Authenticated = true

	if err := s.repo.UpsertSession(ctx, rec.ClientID); err != nil {
		slog.Warn("failed to upsert session", "client_id", rec.ClientID, "error", err)
	}
	history, err := s.repo.GetHistory(ctx, rec.ClientID, historyRestoreLimit)
	if err != nil {
		slog.Error("failed to restore history", "client_id", rec.ClientID, "error", err)
		sess.Reset()
	} else {
		sess.Seed(history)
	}

	if err := sink.lines("", success("¡Hola de nuevo, "+username+"! Historial restaurado.")); err != nil {
		return err
	}
	if err := renderHistory(sink, sess.Window()); err != nil {
		return err
	}
	return sink.lines(info("Cuando quieras, usá /clear para vaciar el historial o /quit para salir."))
}

// renderHistory prints restored turns as dialog lines.
func renderHistory(sink *lineSink, turns []domain.Turn) error {
	if len(turns) == 0 {
		return sink.lines(info("No había mensajes guardados. Empecemos un nuevo chat."))
	}
	if err := sink.lines("", infoTag+" Últimos mensajes guardados"+ansiReset); err != nil {
		return err
	}
	for _, t := range turns {
		var rendered string
		if t.Role == domain.RoleUser {
			rendered = formatDialog(userTag, userCont, t.Content)
		} else {
			rendered = formatDialog(botTag, botCont, t.Content)
		}
		if err := sink.lines(rendered); err != nil {
			return err
		}
	}
	return sink.lines("")
}

// lineSink renders engine output as ANSI dialog lines. Replies are written
// once fully assembled; the line protocol has no incremental frame, so
// deltas are absorbed into Final.
type lineSink struct {
	w io.Writer
}

func (s *lineSink) lines(texts ...string) error {
	for _, text := range texts {
		if _, err := fmt.Fprintf(s.w, "%s\n", text); err != nil {
			return err
		}
	}
	return nil
}

// Notify renders a complete assistant message.
func (s *lineSink) Notify(content string) error {
	return s.lines("", formatDialog(botTag, botCont, content))
}

// Delta is a no-op: the TCP protocol delivers assembled replies.
func (s *lineSink) Delta(string) error { return nil }

// Final renders the assembled reply.
func (s *lineSink) Final(content string) error {
	return s.Notify(content)
}
