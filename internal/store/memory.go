package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/fitbot/internal/domain"
)

// MemoryStore is a mutex-guarded in-memory Repository. It is NOT persistent
// and is meant for tests and dependency-free local runs (STORE=memory).
type MemoryStore struct {
	mu         sync.RWMutex
	messages   map[string][]domain.Turn
	workouts   map[string][]domain.WorkoutEntry
	users      map[string]*domain.UserRecord
	lastActive map[string]time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		messages:   make(map[string][]domain.Turn),
		workouts:   make(map[string][]domain.WorkoutEntry),
		users:      make(map[string]*domain.UserRecord),
		lastActive: make(map[string]time.Time),
	}
}

// UpsertSession records the client and bumps its last-activity timestamp.
func (s *MemoryStore) UpsertSession(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive[clientID] = time.Now()
	return nil
}

// AppendMessage appends one chat turn to the client's history.
func (s *MemoryStore) AppendMessage(_ context.Context, clientID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.messages[clientID] = append(s.messages[clientID], domain.Turn{
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	s.lastActive[clientID] = now
	return nil
}

// GetHistory returns the last `limit` turns in chronological order.
func (s *MemoryStore) GetHistory(_ context.Context, clientID string, limit int) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.messages[clientID], limit), nil
}

// ClearHistory removes all chat turns for the client.
func (s *MemoryStore) ClearHistory(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, clientID)
	return nil
}

// LogWorkout appends a workout entry for the client.
func (s *MemoryStore) LogWorkout(_ context.Context, clientID, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workouts[clientID] = append(s.workouts[clientID], domain.WorkoutEntry{
		Entry:     entry,
		CreatedAt: time.Now(),
	})
	return nil
}

// GetWorkouts returns the last `limit` workout entries in chronological order.
func (s *MemoryStore) GetWorkouts(_ context.Context, clientID string, limit int) ([]domain.WorkoutEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.workouts[clientID], limit), nil
}

// RegisterUser creates an account and returns its client_id.
func (s *MemoryStore) RegisterUser(_ context.Context, username, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return "", ErrUsernameTaken
	}
	clientID, err := domain.NewClientID("user")
	if err != nil {
		return "", err
	}
	s.users[username] = &domain.UserRecord{
		Username:     username,
		PasswordHash: passwordHash,
		ClientID:     clientID,
	}
	s.lastActive[clientID] = time.Now()
	return clientID, nil
}

// GetUser looks up an account by username.
func (s *MemoryStore) GetUser(_ context.Context, username string) (*domain.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// DeleteStaleSessions sweeps unregistered clients with no recent activity.
func (s *MemoryStore) DeleteStaleSessions(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered := make(map[string]bool, len(s.users))
	for _, rec := range s.users {
		registered[rec.ClientID] = true
	}

	threshold := time.Now().Add(-olderThan)
	var deleted int64
	for clientID, last := range s.lastActive {
		if last.Before(threshold) && !registered[clientID] {
			delete(s.messages, clientID)
			delete(s.workouts, clientID)
			delete(s.lastActive, clientID)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// lastN copies the trailing `limit` elements of s.
func lastN[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
