package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/fitbot/internal/domain"
	"github.com/ashureev/fitbot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		client_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK(role IN ('user','assistant')),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_client ON messages(client_id, id);

	CREATE TABLE IF NOT EXISTS workouts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL,
		entry TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workouts_client ON workouts(client_id, id);

	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		client_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertSession ensures a session row exists and bumps last_active.
func (s *SQLiteStore) UpsertSession(ctx context.Context, clientID string) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO sessions (client_id, created_at, last_active) VALUES (?, ?, ?)
	ON CONFLICT(client_id) DO UPDATE SET last_active = excluded.last_active`

	if _, err := s.db.ExecContext(ctx, query, clientID, now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// AppendMessage appends one chat turn. Retries on SQLITE_BUSY since the
// retention worker may hold the write lock briefly.
func (s *SQLiteStore) AppendMessage(ctx context.Context, clientID, role, content string) error {
	return withBusyRetry(func() error {
		now := time.Now().Unix()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (client_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			clientID, role, content, now,
		)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET last_active = ? WHERE client_id = ?`, now, clientID)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
}

// GetHistory returns the last `limit` turns in chronological order. SQLite
// retrieves newest-first for the LIMIT, so rows are reversed before return.
func (s *SQLiteStore) GetHistory(ctx context.Context, clientID string, limit int) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE client_id = ? ORDER BY id DESC LIMIT ?`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer closeRows(rows, "history")

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var createdAt int64
		if err := rows.Scan(&t.Role, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	reverse(turns)
	return turns, nil
}

// ClearHistory removes all chat turns for the client.
func (s *SQLiteStore) ClearHistory(ctx context.Context, clientID string) error {
	return withBusyRetry(func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		return nil
	})
}

// LogWorkout appends a workout entry for the client.
func (s *SQLiteStore) LogWorkout(ctx context.Context, clientID, entry string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workouts (client_id, entry, created_at) VALUES (?, ?, ?)`,
		clientID, entry, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log workout: %w", err)
	}
	return nil
}

// GetWorkouts returns the last `limit` workout entries in chronological order.
func (s *SQLiteStore) GetWorkouts(ctx context.Context, clientID string, limit int) ([]domain.WorkoutEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry, created_at FROM workouts WHERE client_id = ? ORDER BY id DESC LIMIT ?`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query workouts: %w", err)
	}
	defer closeRows(rows, "workouts")

	var entries []domain.WorkoutEntry
	for rows.Next() {
		var e domain.WorkoutEntry
		var createdAt int64
		if err := rows.Scan(&e.Entry, &createdAt); err != nil {
			return nil, fmt.Errorf("scan workout row: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workouts: %w", err)
	}

	reverse(entries)
	return entries, nil
}

// RegisterUser creates an account row and its backing session.
func (s *SQLiteStore) RegisterUser(ctx context.Context, username, passwordHash string) (string, error) {
	existing, err := s.GetUser(ctx, username)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrUsernameTaken
	}

	clientID, err := domain.NewClientID("user")
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, client_id, created_at) VALUES (?, ?, ?, ?)`,
		username, passwordHash, clientID, now,
	)
	if err != nil {
		// A concurrent registration can still win the race on the
		// primary key; report it as a taken username.
		if isUniqueViolation(err) {
			return "", ErrUsernameTaken
		}
		return "", fmt.Errorf("register user: %w", err)
	}

	if err := s.UpsertSession(ctx, clientID); err != nil {
		return "", err
	}
	return clientID, nil
}

// GetUser looks up an account by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*domain.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, client_id FROM users WHERE username = ?`, username)

	var rec domain.UserRecord
	err := row.Scan(&rec.Username, &rec.PasswordHash, &rec.ClientID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return &rec, nil
}

// DeleteStaleSessions sweeps unregistered sessions with no recent activity,
// along with their messages and workouts. Registered accounts are kept.
func (s *SQLiteStore) DeleteStaleSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan).Unix()
	stale := `SELECT client_id FROM sessions
		WHERE last_active < ? AND client_id NOT IN (SELECT client_id FROM users)`

	var deleted int64
	err := withBusyRetry(func() error {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE client_id IN (`+stale+`)`, threshold); err != nil {
			return fmt.Errorf("delete stale messages: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM workouts WHERE client_id IN (`+stale+`)`, threshold); err != nil {
			return fmt.Errorf("delete stale workouts: %w", err)
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions
			 WHERE last_active < ? AND client_id NOT IN (SELECT client_id FROM users)`, threshold)
		if err != nil {
			return fmt.Errorf("delete stale sessions: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("stale sessions rows affected: %w", err)
		}
		return nil
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return shared.ContainsAny(err.Error(), "UNIQUE constraint failed", "constraint failed")
}

// withBusyRetry retries the operation with exponential backoff on
// SQLITE_BUSY / "database is locked" errors.
func withBusyRetry(op func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("store operation hit SQLITE_BUSY, retrying", "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return err
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
