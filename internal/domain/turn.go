// Package domain contains core domain types for the FitBot relay.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Roles a Turn can carry. The store rejects anything else.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in a conversation. Immutable once created.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// WorkoutEntry is a free-text workout log line, keyed by client_id and
// unrelated to chat turns except by that shared key.
type WorkoutEntry struct {
	Entry     string    `json:"entry"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRecord holds registered-account credentials for the TCP auth flow.
// Created on registration, looked up on login, never mutated.
type UserRecord struct {
	Username     string
	PasswordHash string
	ClientID     string
}

// NewClientID generates an opaque client identifier with the given prefix,
// e.g. "tcp-3f9a0c1b2d4e". Prefixes keep guest and account IDs visually
// distinct in logs and in the store.
func NewClientID(prefix string) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return prefix + "-" + hex.EncodeToString(buf), nil
}
