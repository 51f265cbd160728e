package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/job"
)

// Create schedules an insert of e into collection.
// The job resolves with the stored snapshot carrying the new id and revision 1.
func (s *Store) Create(ctx context.Context, e entity.Entity, collection entity.CollectionID) *job.Job {
	return s.submit(ctx, job.KindCreate, e, collection, func() (entity.Entity, error) {
		return s.insertEntity(ctx, e, collection)
	})
}

// Modify schedules an optimistic update of e.
// The job resolves with the snapshot at revision e.Revision+1.
func (s *Store) Modify(ctx context.Context, e entity.Entity) *job.Job {
	return s.submit(ctx, job.KindModify, e, e.Collection, func() (entity.Entity, error) {
		return s.updateEntity(ctx, e)
	})
}

// Delete schedules removal of e. The job resolves with the zero entity.
func (s *Store) Delete(ctx context.Context, e entity.Entity) *job.Job {
	return s.submit(ctx, job.KindDelete, e, e.Collection, func() (entity.Entity, error) {
		return entity.Entity{}, s.removeEntity(ctx, e)
	})
}

// submit journals the request, then hands the work to the dispatcher.
// A journal failure resolves the job with that error without dispatching.
func (s *Store) submit(ctx context.Context, kind job.Kind, e entity.Entity, collection entity.CollectionID, work func() (entity.Entity, error)) *job.Job {
	seq := s.clock.Next()

	if err := s.writeJobStarted(ctx, seq, kind, e, collection); err != nil {
		slog.Error("job journal write failed", "seq", seq, "job", string(kind), "error", err)
		return job.Failed(kind, err)
	}

	j := job.New(kind)
	s.dispatcher.Dispatch(seq, func() {
		result, err := work()
		if jerr := s.writeJobFinished(ctx, seq, result, err); jerr != nil {
			slog.Error("job journal write failed", "seq", seq, "job", string(kind), "error", jerr)
		}

		slog.Debug("store job finished",
			"seq", seq,
			"job", string(kind),
			"entity_id", e.ID,
			"error", err,
		)
		_ = j.Resolve(result, err)
	})
	return j
}

func (s *Store) writeJobStarted(ctx context.Context, seq int64, kind job.Kind, e entity.Entity, collection entity.CollectionID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (seq, kind, entity_id, collection_id, request_revision, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, seq, string(kind), int64(e.ID), int64(collection), int64(e.Revision), string(JobPending))
	if err != nil {
		return fmt.Errorf("write job %d: %w", seq, err)
	}
	return nil
}

func (s *Store) writeJobFinished(ctx context.Context, seq int64, result entity.Entity, jobErr error) error {
	status := JobSucceeded
	errText := ""
	var resultRevision any
	if jobErr != nil {
		status = JobFailed
		errText = jobErr.Error()
	} else {
		resultRevision = int64(result.Revision)
	}

	// Creates learn their id only now.
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, result_revision = ?, error = ?,
			entity_id = CASE WHEN entity_id = 0 THEN ? ELSE entity_id END
		WHERE seq = ? AND status = ?
	`, string(status), resultRevision, errText, int64(result.ID), seq, string(JobPending))
	if err != nil {
		return fmt.Errorf("finish job %d: %w", seq, err)
	}
	return nil
}
