package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/undolog/internal/dialect"
)

// createTestSession opens a session on a fresh SQLite database.
func createTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), Config{
		Dialect: dialect.SQLite{User: "test"},
		DSN:     path,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

// retryingSession returns a session with no pool, used to exercise retry
// classification without a database.
func retryingSession(attempts int, timeout time.Duration) *Session {
	return &Session{
		dialect:     dialect.SQLite{},
		stepTimeout: timeout,
		maxAttempts: attempts,
		newBackoff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		logger:      discardLogger(),
	}
}
