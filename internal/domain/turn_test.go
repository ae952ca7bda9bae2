package domain

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewClientID(t *testing.T) {
	// Generated ids must be valid WebSocket path client ids.
	valid := regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewClientID("tcp")
		if err != nil {
			t.Fatalf("NewClientID failed: %v", err)
		}
		if !strings.HasPrefix(id, "tcp-") {
			t.Fatalf("expected tcp- prefix, got %q", id)
		}
		if !valid.MatchString(id) {
			t.Fatalf("generated id %q is not a valid client id", id)
		}
		if seen[id] {
			t.Fatalf("generated a duplicate id %q", id)
		}
		seen[id] = true
	}
}
