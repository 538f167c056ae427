package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "autonomy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
