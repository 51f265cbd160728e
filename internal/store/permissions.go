package store

import (
	"context"
	"log/slog"

	"github.com/roach88/itemsync/internal/entity"
)

// Permissions answers coordinator rights and existence checks from the
// collections and entities tables. Lookup failures deny.
type Permissions struct {
	store *Store
}

// NewPermissions creates a checker backed by s.
func NewPermissions(s *Store) *Permissions {
	return &Permissions{store: s}
}

func (p *Permissions) CanCreate(collection entity.CollectionID) bool {
	c, err := p.store.GetCollection(context.Background(), collection)
	if err != nil {
		slog.Debug("create rights lookup failed", "collection", collection, "error", err)
		return false
	}
	return c.CanCreate
}

func (p *Permissions) CanEdit(e entity.Entity) bool {
	c, ok := p.collectionOf(e)
	return ok && c.CanEdit
}

func (p *Permissions) CanDelete(e entity.Entity) bool {
	c, ok := p.collectionOf(e)
	return ok && c.CanDelete
}

// IsKnown reports whether the entity row still exists.
func (p *Permissions) IsKnown(id entity.ID) bool {
	ok, err := p.store.Exists(context.Background(), id)
	if err != nil {
		slog.Warn("entity lookup failed", "entity_id", id, "error", err)
		return false
	}
	return ok
}

// collectionOf resolves rights from the stored collection, falling back to
// the snapshot's collection for entities the store no longer has.
func (p *Permissions) collectionOf(e entity.Entity) (Collection, bool) {
	ctx := context.Background()
	collection := e.Collection
	if stored, err := p.store.Get(ctx, e.ID); err == nil {
		collection = stored.Collection
	}

	c, err := p.store.GetCollection(ctx, collection)
	if err != nil {
		slog.Debug("rights lookup failed", "entity_id", e.ID, "collection", collection, "error", err)
		return Collection{}, false
	}
	return c, true
}
