// Package memtest opens throwaway SQLite stores for tests.
package memtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenamanage/planengine/internal/memory"
	"github.com/zenamanage/planengine/internal/project"
)

// Open returns a migrated store in a temp directory, closed on cleanup.
func Open(t testing.TB) *memory.Store {
	t.Helper()
	store, err := memory.Open(context.Background(), memory.Options{
		Path: filepath.Join(t.TempDir(), "plan.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Project inserts a project row directly and returns it.
func Project(t testing.TB, store *memory.Store, id string, status project.Status, tags ...string) *project.Project {
	t.Helper()
	ts := time.Now().UTC()
	p := &project.Project{
		ID:        id,
		Name:      id,
		Status:    status,
		Tags:      project.NormalizeTags(tags),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	require.NoError(t, store.CreateProject(context.Background(), p))
	return p
}
