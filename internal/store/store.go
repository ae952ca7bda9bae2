// Package store provides durable per-client history persistence.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/fitbot/internal/domain"
)

// ErrUsernameTaken is returned by RegisterUser when the username exists.
var ErrUsernameTaken = errors.New("username already registered")

// Repository is the durable store for conversation history, workout logs and
// registered users. Every operation is keyed by client_id and independently
// atomic; no cross-call transactions are required. Concurrent appends for
// the same client_id are last-write-wins (the system assumes one active
// connection per client_id at a time).
type Repository interface {
	// UpsertSession ensures a session row exists for the client and bumps
	// its last-activity timestamp.
	UpsertSession(ctx context.Context, clientID string) error

	// AppendMessage appends one chat turn to the client's history.
	AppendMessage(ctx context.Context, clientID, role, content string) error

	// GetHistory returns the most recent turns in chronological order,
	// regardless of the backend's native retrieval order.
	GetHistory(ctx context.Context, clientID string, limit int) ([]domain.Turn, error)

	// ClearHistory removes all chat turns for the client.
	ClearHistory(ctx context.Context, clientID string) error

	// LogWorkout appends a workout entry for the client.
	LogWorkout(ctx context.Context, clientID, entry string) error

	// GetWorkouts returns the most recent workout entries in chronological order.
	GetWorkouts(ctx context.Context, clientID string, limit int) ([]domain.WorkoutEntry, error)

	// RegisterUser creates an account and returns its durable client_id.
	// Returns ErrUsernameTaken when the username exists.
	RegisterUser(ctx context.Context, username, passwordHash string) (string, error)

	// GetUser looks up an account by username. Returns (nil, nil) when the
	// username is unknown.
	GetUser(ctx context.Context, username string) (*domain.UserRecord, error)

	// DeleteStaleSessions removes unregistered sessions (and their messages
	// and workouts) with no activity for the given duration. Returns the
	// number of sessions removed.
	DeleteStaleSessions(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying store.
	Close() error
}
