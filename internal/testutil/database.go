package testutil

import (
	"testing"

	"skein-go/internal/database"
	"skein-go/internal/skein"
)

// NewTestSQLiteStore creates an in-memory SQLite durable store with the
// schema applied. The store is closed when the test completes.
func NewTestSQLiteStore(t *testing.T, clock skein.Clock) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
