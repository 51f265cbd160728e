package testutil

import (
	"sync"

	"github.com/roach88/itemsync/internal/entity"
)

// Permissions is a mutable rights table. Everything is allowed and known
// until a test says otherwise.
type Permissions struct {
	mu         sync.Mutex
	denyCreate map[entity.CollectionID]bool
	denyEdit   map[entity.ID]bool
	denyDelete map[entity.ID]bool
	forgotten  map[entity.ID]bool
}

// NewPermissions creates an allow-all table.
func NewPermissions() *Permissions {
	return &Permissions{
		denyCreate: make(map[entity.CollectionID]bool),
		denyEdit:   make(map[entity.ID]bool),
		denyDelete: make(map[entity.ID]bool),
		forgotten:  make(map[entity.ID]bool),
	}
}

// DenyCreate removes create rights in collection.
func (p *Permissions) DenyCreate(collection entity.CollectionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyCreate[collection] = true
}

// DenyEdit removes edit rights for id.
func (p *Permissions) DenyEdit(id entity.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyEdit[id] = true
}

// DenyDelete removes delete rights for id.
func (p *Permissions) DenyDelete(id entity.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyDelete[id] = true
}

// Forget makes the cache stop knowing id.
func (p *Permissions) Forget(id entity.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten[id] = true
}

func (p *Permissions) CanCreate(collection entity.CollectionID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.denyCreate[collection]
}

func (p *Permissions) CanEdit(e entity.Entity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.denyEdit[e.ID]
}

func (p *Permissions) CanDelete(e entity.Entity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.denyDelete[e.ID]
}

func (p *Permissions) IsKnown(id entity.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.forgotten[id]
}
