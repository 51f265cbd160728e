package store

import (
	"errors"
	"fmt"

	"github.com/roach88/itemsync/internal/entity"
)

var (
	// ErrNotFound is returned when the entity or collection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRevisionConflict is matched by every *ConflictError.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrPermission is returned when the collection denies the operation.
	ErrPermission = errors.New("permission denied")
)

// ConflictError reports an optimistic concurrency failure on Modify.
type ConflictError struct {
	ID       entity.ID
	Expected entity.Revision
	Actual   entity.Revision
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on entity %d: request has %d, store has %d", e.ID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrRevisionConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}
