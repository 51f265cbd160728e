package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/entity"
)

// createTestStore opens a fresh database in a temp dir with manual dispatch.
func createTestStore(t *testing.T) (*Store, *ManualDispatcher) {
	t.Helper()
	d := NewManualDispatcher()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithDispatcher(d))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, d
}

// seedCollection creates collection 1 with all rights plus the given entities.
func seedCollection(t *testing.T, s *Store, entities ...entity.Entity) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.PutCollection(ctx, Collection{ID: 1, Name: "tasks", CanCreate: true, CanEdit: true, CanDelete: true}))
	for _, e := range entities {
		require.NoError(t, s.Seed(ctx, e))
	}
}

func testEntity(id entity.ID, rev entity.Revision, title string) entity.Entity {
	return entity.Entity{
		ID:         id,
		Revision:   rev,
		Collection: 1,
		Kind:       "todo",
		Payload:    entity.Payload{"title": title},
	}
}

// await blocks until j resolves and returns its result.
func await(t *testing.T, j interface {
	Done() <-chan struct{}
	Result() (entity.Entity, error)
}) (entity.Entity, error) {
	t.Helper()
	<-j.Done()
	return j.Result()
}
