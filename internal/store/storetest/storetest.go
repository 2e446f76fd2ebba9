// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/discernment/internal/store"
)

// New opens a store backed by a fresh database file under t.TempDir.
func New(t testing.TB) *store.Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate",
		filepath.Join(t.TempDir(), "test.db"))

	s, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err, "should be able to open store")
	t.Cleanup(func() { _ = s.Close() })

	return s
}
