package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/job"
)

// JobStatus is the journal state of a store job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JournalEntry is one row of the job journal.
type JournalEntry struct {
	Seq             int64               `json:"seq"`
	Kind            job.Kind            `json:"kind"`
	EntityID        entity.ID           `json:"entity_id"`
	Collection      entity.CollectionID `json:"collection"`
	RequestRevision entity.Revision     `json:"request_revision"`
	Status          JobStatus           `json:"status"`
	ResultRevision  entity.Revision     `json:"result_revision,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// ReadJournal returns every journal row ordered by seq.
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ReadJournal(ctx context.Context) ([]JournalEntry, error) {
	return s.queryJournal(ctx, `
		SELECT seq, kind, entity_id, collection_id, request_revision, status, result_revision, error
		FROM jobs
		ORDER BY seq ASC
	`)
}

// ReadEntityJournal returns the journal rows for one entity ordered by seq.
func (s *Store) ReadEntityJournal(ctx context.Context, id entity.ID) ([]JournalEntry, error) {
	return s.queryJournal(ctx, `
		SELECT seq, kind, entity_id, collection_id, request_revision, status, result_revision, error
		FROM jobs
		WHERE entity_id = ?
		ORDER BY seq ASC
	`, int64(id))
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM jobs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

func (s *Store) queryJournal(ctx context.Context, query string, args ...any) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		var (
			e        JournalEntry
			kind     string
			status   string
			resultRv sql.NullInt64
		)
		if err := rows.Scan(&e.Seq, &kind, &e.EntityID, &e.Collection, &e.RequestRevision, &status, &resultRv, &e.Error); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.Kind = job.Kind(kind)
		e.Status = JobStatus(status)
		e.ResultRevision = entity.Revision(resultRv.Int64)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
