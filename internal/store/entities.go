package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/itemsync/internal/entity"
)

// Collection is a container of entities with per-collection rights.
type Collection struct {
	ID        entity.CollectionID `json:"id"`
	Name      string              `json:"name"`
	CanCreate bool                `json:"can_create"`
	CanEdit   bool                `json:"can_edit"`
	CanDelete bool                `json:"can_delete"`
}

// PutCollection inserts or replaces a collection.
func (s *Store) PutCollection(ctx context.Context, c Collection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, can_create, can_edit, can_delete)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			can_create = excluded.can_create,
			can_edit = excluded.can_edit,
			can_delete = excluded.can_delete
	`, int64(c.ID), c.Name, boolToInt(c.CanCreate), boolToInt(c.CanEdit), boolToInt(c.CanDelete))
	if err != nil {
		return fmt.Errorf("put collection %d: %w", c.ID, err)
	}
	return nil
}

// GetCollection returns the collection with id.
func (s *Store) GetCollection(ctx context.Context, id entity.CollectionID) (Collection, error) {
	var c Collection
	var canCreate, canEdit, canDelete int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, can_create, can_edit, can_delete
		FROM collections WHERE id = ?
	`, int64(id)).Scan(&c.ID, &c.Name, &canCreate, &canEdit, &canDelete)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Collection{}, fmt.Errorf("get collection %d: %w", id, err)
	}
	c.CanCreate, c.CanEdit, c.CanDelete = canCreate != 0, canEdit != 0, canDelete != 0
	return c, nil
}

// Seed writes e with its own id and revision, bypassing jobs and rights.
// Used to load workspace fixtures.
func (s *Store) Seed(ctx context.Context, e entity.Entity) error {
	if e.ID == 0 {
		return fmt.Errorf("seed entity: id is required")
	}
	if e.Revision == 0 {
		e.Revision = 1
	}
	payload, digest, err := marshalPayload(e.Payload)
	if err != nil {
		return fmt.Errorf("seed entity %d: %w", e.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, collection_id, revision, kind, shared, organizer, payload, payload_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			collection_id = excluded.collection_id,
			revision = excluded.revision,
			kind = excluded.kind,
			shared = excluded.shared,
			organizer = excluded.organizer,
			payload = excluded.payload,
			payload_digest = excluded.payload_digest
	`,
		int64(e.ID),
		int64(e.Collection),
		int64(e.Revision),
		e.Kind,
		boolToInt(e.Shared),
		boolToInt(e.Organizer),
		payload,
		digest,
	)
	if err != nil {
		return fmt.Errorf("seed entity %d: %w", e.ID, err)
	}
	return nil
}

// Get returns the stored snapshot of id.
func (s *Store) Get(ctx context.Context, id entity.ID) (entity.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection_id, revision, kind, shared, organizer, payload
		FROM entities WHERE id = ?
	`, int64(id))

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Entity{}, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return entity.Entity{}, fmt.Errorf("get entity %d: %w", id, err)
	}
	return e, nil
}

// Exists reports whether id is stored.
func (s *Store) Exists(ctx context.Context, id entity.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, int64(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("entity exists %d: %w", id, err)
	}
	return n > 0, nil
}

// List returns every entity in collection ordered by id.
// Returns an empty slice (not nil) for an empty collection.
func (s *Store) List(ctx context.Context, collection entity.CollectionID) ([]entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, revision, kind, shared, organizer, payload
		FROM entities
		WHERE collection_id = ?
		ORDER BY id ASC
	`, int64(collection))
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	entities := []entity.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (entity.Entity, error) {
	var (
		e                 entity.Entity
		shared, organizer int
		payload           string
	)
	if err := row.Scan(&e.ID, &e.Collection, &e.Revision, &e.Kind, &shared, &organizer, &payload); err != nil {
		return entity.Entity{}, err
	}
	p, err := unmarshalPayload(payload)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("entity %d: %w", e.ID, err)
	}
	e.Shared = shared != 0
	e.Organizer = organizer != 0
	e.Payload = p
	return e, nil
}

// insertEntity creates a new row at revision 1. The id is assigned by SQLite.
func (s *Store) insertEntity(ctx context.Context, e entity.Entity, collection entity.CollectionID) (entity.Entity, error) {
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return entity.Entity{}, err
	}
	if !c.CanCreate {
		return entity.Entity{}, fmt.Errorf("create in collection %d: %w", collection, ErrPermission)
	}

	payload, digest, err := marshalPayload(e.Payload)
	if err != nil {
		return entity.Entity{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (collection_id, revision, kind, shared, organizer, payload, payload_digest)
		VALUES (?, 1, ?, ?, ?, ?, ?)
	`, int64(collection), e.Kind, boolToInt(e.Shared), boolToInt(e.Organizer), payload, digest)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("insert entity: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return entity.Entity{}, fmt.Errorf("insert entity: %w", err)
	}

	out := e.Clone()
	out.ID = entity.ID(id)
	out.Collection = collection
	out.Revision = 1
	return out, nil
}

// updateEntity writes e if the stored revision equals e.Revision.
func (s *Store) updateEntity(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	current, err := s.Get(ctx, e.ID)
	if err != nil {
		return entity.Entity{}, err
	}
	c, err := s.GetCollection(ctx, current.Collection)
	if err != nil {
		return entity.Entity{}, err
	}
	if !c.CanEdit {
		return entity.Entity{}, fmt.Errorf("edit entity %d: %w", e.ID, ErrPermission)
	}

	payload, digest, err := marshalPayload(e.Payload)
	if err != nil {
		return entity.Entity{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET revision = revision + 1,
			kind = ?, shared = ?, organizer = ?, payload = ?, payload_digest = ?
		WHERE id = ? AND revision = ?
	`, e.Kind, boolToInt(e.Shared), boolToInt(e.Organizer), payload, digest, int64(e.ID), int64(e.Revision))
	if err != nil {
		return entity.Entity{}, fmt.Errorf("update entity %d: %w", e.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return entity.Entity{}, fmt.Errorf("update entity %d: %w", e.ID, err)
	}
	if n == 0 {
		latest, err := s.Get(ctx, e.ID)
		if err != nil {
			return entity.Entity{}, err
		}
		return entity.Entity{}, &ConflictError{ID: e.ID, Expected: e.Revision, Actual: latest.Revision}
	}

	out := e.Clone()
	out.Collection = current.Collection
	out.Revision = e.Revision + 1
	return out, nil
}

// removeEntity deletes id regardless of revision.
func (s *Store) removeEntity(ctx context.Context, e entity.Entity) error {
	current, err := s.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	c, err := s.GetCollection(ctx, current.Collection)
	if err != nil {
		return err
	}
	if !c.CanDelete {
		return fmt.Errorf("delete entity %d: %w", e.ID, ErrPermission)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, int64(e.ID)); err != nil {
		return fmt.Errorf("delete entity %d: %w", e.ID, err)
	}
	return nil
}
