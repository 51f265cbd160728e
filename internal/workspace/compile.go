package workspace

import (
	"context"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/store"
)

// Workspace is a compiled set of fixtures.
type Workspace struct {
	Collections []store.Collection
	Entities    []entity.Entity

	// CollectionIDs maps collection labels to ids.
	CollectionIDs map[string]entity.CollectionID
}

// Compile parses the root CUE value of a workspace.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`collection: tasks: { id: 1 }`)
//	ws, err := Compile(v)
func Compile(v cue.Value) (*Workspace, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	ws := &Workspace{CollectionIDs: make(map[string]entity.CollectionID)}

	collections := v.LookupPath(cue.ParsePath("collection"))
	if collections.Exists() {
		iter, err := collections.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		seen := make(map[entity.CollectionID]string)
		for iter.Next() {
			c, err := compileCollection(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[c.ID]; dup {
				return nil, &CompileError{
					Field:   "collection.id",
					Message: fmt.Sprintf("collection %q reuses id %d of %q", iter.Label(), c.ID, prev),
					Pos:     iter.Value().Pos(),
				}
			}
			seen[c.ID] = iter.Label()
			ws.CollectionIDs[iter.Label()] = c.ID
			ws.Collections = append(ws.Collections, c)
		}
	}

	entities := v.LookupPath(cue.ParsePath("entity"))
	if entities.Exists() {
		iter, err := entities.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		seen := make(map[entity.ID]string)
		for iter.Next() {
			e, err := compileEntity(iter.Value(), ws.CollectionIDs)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[e.ID]; dup {
				return nil, &CompileError{
					Field:   "entity.id",
					Message: fmt.Sprintf("entity %q reuses id %d of %q", iter.Label(), e.ID, prev),
					Pos:     iter.Value().Pos(),
				}
			}
			seen[e.ID] = iter.Label()
			ws.Entities = append(ws.Entities, e)
		}
	}

	sort.Slice(ws.Collections, func(i, j int) bool { return ws.Collections[i].ID < ws.Collections[j].ID })
	sort.Slice(ws.Entities, func(i, j int) bool { return ws.Entities[i].ID < ws.Entities[j].ID })
	return ws, nil
}

func compileCollection(label string, v cue.Value) (store.Collection, error) {
	id, err := requiredInt(v, "id", "collection.id")
	if err != nil {
		return store.Collection{}, err
	}

	c := store.Collection{ID: entity.CollectionID(id), Name: label}
	if c.CanCreate, err = optionalBool(v, "can_create", true); err != nil {
		return store.Collection{}, err
	}
	if c.CanEdit, err = optionalBool(v, "can_edit", true); err != nil {
		return store.Collection{}, err
	}
	if c.CanDelete, err = optionalBool(v, "can_delete", true); err != nil {
		return store.Collection{}, err
	}
	return c, nil
}

func compileEntity(v cue.Value, collections map[string]entity.CollectionID) (entity.Entity, error) {
	id, err := requiredInt(v, "id", "entity.id")
	if err != nil {
		return entity.Entity{}, err
	}

	collVal := v.LookupPath(cue.ParsePath("collection"))
	if !collVal.Exists() {
		return entity.Entity{}, &CompileError{Field: "entity.collection", Message: "collection is required", Pos: v.Pos()}
	}
	label, err := collVal.String()
	if err != nil {
		return entity.Entity{}, formatCUEError(err)
	}
	collection, ok := collections[label]
	if !ok {
		return entity.Entity{}, &CompileError{
			Field:   "entity.collection",
			Message: fmt.Sprintf("unknown collection %q", label),
			Pos:     collVal.Pos(),
		}
	}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return entity.Entity{}, &CompileError{Field: "entity.kind", Message: "kind is required", Pos: v.Pos()}
	}
	kind, err := kindVal.String()
	if err != nil {
		return entity.Entity{}, formatCUEError(err)
	}

	e := entity.Entity{
		ID:         entity.ID(id),
		Collection: collection,
		Kind:       kind,
		Revision:   1,
		Payload:    entity.Payload{},
	}

	if revVal := v.LookupPath(cue.ParsePath("revision")); revVal.Exists() {
		rev, err := revVal.Int64()
		if err != nil {
			return entity.Entity{}, formatCUEError(err)
		}
		if rev < 1 {
			return entity.Entity{}, &CompileError{Field: "entity.revision", Message: "revision must be at least 1", Pos: revVal.Pos()}
		}
		e.Revision = entity.Revision(rev)
	}

	if e.Shared, err = optionalBool(v, "shared", false); err != nil {
		return entity.Entity{}, err
	}
	if e.Organizer, err = optionalBool(v, "organizer", true); err != nil {
		return entity.Entity{}, err
	}

	if payloadVal := v.LookupPath(cue.ParsePath("payload")); payloadVal.Exists() {
		p, err := toGo(payloadVal)
		if err != nil {
			return entity.Entity{}, err
		}
		obj, ok := p.(entity.Payload)
		if !ok {
			return entity.Entity{}, &CompileError{Field: "entity.payload", Message: "payload must be a struct", Pos: payloadVal.Pos()}
		}
		e.Payload = obj
	}

	return e, nil
}

func requiredInt(v cue.Value, name, field string) (int64, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return 0, &CompileError{Field: field, Message: name + " is required", Pos: v.Pos()}
	}
	n, err := f.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if n <= 0 {
		return 0, &CompileError{Field: field, Message: name + " must be positive", Pos: f.Pos()}
	}
	return n, nil
}

func optionalBool(v cue.Value, name string, def bool) (bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return def, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// toGo converts a concrete CUE value into payload values.
// Floats are forbidden; use int instead.
func toGo(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return s, nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return n, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return b, nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := []any{}
		for iter.Next() {
			elem, err := toGo(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := entity.Payload{}
		for iter.Next() {
			elem, err := toGo(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Label()] = elem
		}
		return out, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "type",
			Message: "float values are forbidden in payloads - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported payload kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// Apply writes the workspace into s.
func (w *Workspace) Apply(ctx context.Context, s *store.Store) error {
	for _, c := range w.Collections {
		if err := s.PutCollection(ctx, c); err != nil {
			return err
		}
	}
	for _, e := range w.Entities {
		if err := s.Seed(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
