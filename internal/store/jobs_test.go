package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/job"
)

func TestCreate_AssignsIDAndRevision(t *testing.T) {
	s, d := createTestStore(t)
	seedCollection(t, s)
	ctx := context.Background()

	j := s.Create(ctx, testEntity(0, 0, "new"), 1)
	assert.False(t, j.Resolved(), "manual dispatch holds the job")
	assert.Equal(t, []int64{1}, d.Pending())

	require.NoError(t, d.Release(1))
	got, err := await(t, j)
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.Equal(t, entity.Revision(1), got.Revision)
	assert.Equal(t, entity.CollectionID(1), got.Collection)

	stored, err := s.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Payload["title"])
}

func TestCreate_DeniedByCollection(t *testing.T) {
	s, d := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutCollection(ctx, Collection{ID: 2, Name: "readonly"}))

	j := s.Create(ctx, testEntity(0, 0, "x"), 2)
	d.ReleaseAll()
	_, err := await(t, j)
	assert.ErrorIs(t, err, ErrPermission)

	j = s.Create(ctx, testEntity(0, 0, "x"), 404)
	d.ReleaseAll()
	_, err = await(t, j)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModify_BumpsRevision(t *testing.T) {
	s, d := createTestStore(t)
	seedCollection(t, s, testEntity(7, 3, "v0"))
	ctx := context.Background()

	j := s.Modify(ctx, testEntity(7, 3, "v1"))
	d.ReleaseAll()
	got, err := await(t, j)
	require.NoError(t, err)
	assert.Equal(t, entity.Revision(4), got.Revision)

	stored, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, entity.Revision(4), stored.Revision)
	assert.Equal(t, "v1", stored.Payload["title"])
}

func TestModify_StaleRevisionConflicts(t *testing.T) {
	s, d := createTestStore(t)
	seedCollection(t, s, testEntity(7, 5, "v0"))

	j := s.Modify(context.Background(), testEntity(7, 3, "v1"))
	d.ReleaseAll()
	_, err := await(t, j)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRevisionConflict))

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, entity.Revision(3), conflict.Expected)
	assert.Equal(t, entity.Revision(5), conflict.Actual)
}

func TestModify_Missing(t *testing.T) {
	s, d := createTestStore(t)
	seedCollection(t, s)

	j := s.Modify(context.Background(), testEntity(7, 1, "v1"))
	d.ReleaseAll()
	_, err := await(t, j)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_IgnoresRevision(t *testing.T) {
	s, d := createTestStore(t)
	seedCollection(t, s, testEntity(7, 5, "v0"))
	ctx := context.Background()

	j := s.Delete(ctx, testEntity(7, 1, "v0"))
	d.ReleaseAll()
	_, err := await(t, j)
	require.NoError(t, err)

	_, err = s.Get(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	j = s.Delete(ctx, testEntity(7, 1, "v0"))
	d.ReleaseAll()
	_, err = await(t, j)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobs_OutOfOrderRelease(t *testing.T) {
	s, d := createTestStore(t)
	seedCollection(t, s, testEntity(7, 1, "v0"))
	ctx := context.Background()

	edit := s.Modify(ctx, testEntity(7, 1, "v1"))
	del := s.Delete(ctx, testEntity(7, 1, "v0"))

	require.NoError(t, d.Release(2))
	_, err := await(t, del)
	require.NoError(t, err)

	require.NoError(t, d.Release(1))
	_, err = await(t, edit)
	assert.ErrorIs(t, err, ErrNotFound, "edit lands after the entity is gone")

	assert.Error(t, d.Release(1), "released jobs are forgotten")
}

func TestJournal_RecordsLifecycle(t *testing.T) {
	s, d := createTestStore(t)
	seedCollection(t, s, testEntity(7, 3, "v0"))
	ctx := context.Background()

	created := s.Create(ctx, testEntity(0, 0, "n"), 1)
	s.Modify(ctx, testEntity(7, 1, "stale"))
	s.Modify(ctx, testEntity(7, 3, "v1"))

	pending, err := s.ReadJournal(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, e := range pending {
		assert.Equal(t, JobPending, e.Status)
	}

	assert.Equal(t, 3, d.ReleaseAll())
	newEntity, err := await(t, created)
	require.NoError(t, err)

	entries, err := s.ReadJournal(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, job.KindCreate, entries[0].Kind)
	assert.Equal(t, JobSucceeded, entries[0].Status)
	assert.Equal(t, newEntity.ID, entries[0].EntityID, "create learns its id on completion")
	assert.Equal(t, entity.Revision(1), entries[0].ResultRevision)

	assert.Equal(t, JobFailed, entries[1].Status)
	assert.Contains(t, entries[1].Error, "revision conflict")
	assert.Equal(t, entity.Revision(0), entries[1].ResultRevision)

	assert.Equal(t, JobSucceeded, entries[2].Status)
	assert.Equal(t, entity.Revision(4), entries[2].ResultRevision)

	perEntity, err := s.ReadEntityJournal(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, perEntity, 2)

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestAsyncDispatcher_Resolves(t *testing.T) {
	s, err := Open(t.TempDir() + "/async.db")
	require.NoError(t, err)
	defer s.Close()
	seedCollection(t, s)

	j := s.Create(context.Background(), testEntity(0, 0, "async"), 1)
	got, err := await(t, j)
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
}

func TestPermissions(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutCollection(ctx, Collection{ID: 1, Name: "rw", CanCreate: true, CanEdit: true, CanDelete: true}))
	require.NoError(t, s.PutCollection(ctx, Collection{ID: 2, Name: "ro"}))
	require.NoError(t, s.Seed(ctx, testEntity(7, 1, "rw")))
	ro := testEntity(8, 1, "ro")
	ro.Collection = 2
	require.NoError(t, s.Seed(ctx, ro))

	p := NewPermissions(s)
	assert.True(t, p.CanCreate(1))
	assert.False(t, p.CanCreate(2))
	assert.False(t, p.CanCreate(404))

	assert.True(t, p.CanEdit(testEntity(7, 1, "")))
	assert.True(t, p.CanDelete(testEntity(7, 1, "")))

	// Rights come from the stored collection, not the caller's snapshot.
	moved := testEntity(8, 1, "")
	moved.Collection = 1
	assert.False(t, p.CanEdit(moved))
	assert.False(t, p.CanDelete(moved))

	assert.True(t, p.IsKnown(7))
	assert.False(t, p.IsKnown(99))
}

func TestManualDispatcher_ReleaseAllIncludesLateJobs(t *testing.T) {
	d := NewManualDispatcher()
	var order []int64
	d.Dispatch(2, func() { order = append(order, 2) })
	d.Dispatch(1, func() {
		order = append(order, 1)
		d.Dispatch(3, func() { order = append(order, 3) })
	})

	assert.Equal(t, 3, d.ReleaseAll())
	assert.Equal(t, []int64{1, 2, 3}, order)
	assert.Empty(t, d.Pending())
}
