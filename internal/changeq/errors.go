package changeq

import (
	"errors"
	"fmt"

	"github.com/roach88/itemsync/internal/entity"
)

// RejectCode categorizes synchronous rejections.
type RejectCode string

const (
	// ErrCodePermissionDenied means the store-side rights check failed.
	ErrCodePermissionDenied RejectCode = "PERMISSION_DENIED"

	// ErrCodeStaleState means the caller's view is outdated: the entity is
	// being deleted, is already gone, or the cache no longer knows it.
	ErrCodeStaleState RejectCode = "STALE_STATE"

	// ErrCodeNotificationAborted means the notification port vetoed the write.
	ErrCodeNotificationAborted RejectCode = "NOTIFICATION_ABORTED"

	// ErrCodeNoChange means the request carries no semantic change.
	ErrCodeNoChange RejectCode = "NO_CHANGE"

	// ErrCodeInvalidRequest means the request is malformed (missing id, mismatched ids).
	ErrCodeInvalidRequest RejectCode = "INVALID_REQUEST"

	// ErrCodeStopped means the coordinator loop is no longer running.
	ErrCodeStopped RejectCode = "STOPPED"
)

// RejectError is returned when a request is not accepted.
// No store job is started and no completion signal fires for it, except for
// a notification abort on a promoted change, which is reported through
// Listener.ChangeFinished because no caller is waiting.
type RejectError struct {
	Code      RejectCode
	Message   string
	ID        entity.ID
	RequestID string
	Action    entity.Action

	// Rollback holds the restored snapshot after a notification abort.
	Rollback *entity.Entity
}

// Error implements the error interface.
func (e *RejectError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s: %s (entity=%d, action=%s)", e.Code, e.Message, e.ID, e.Action)
	}
	return fmt.Sprintf("%s: %s (action=%s)", e.Code, e.Message, e.Action)
}

func reject(code RejectCode, rec *ChangeRecord, format string, args ...any) *RejectError {
	return &RejectError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		ID:        rec.ID,
		RequestID: rec.RequestID,
		Action:    rec.Action,
	}
}

func hasCode(err error, code RejectCode) bool {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsPermissionDenied reports whether err is a permission rejection.
func IsPermissionDenied(err error) bool { return hasCode(err, ErrCodePermissionDenied) }

// IsStaleState reports whether err rejects a request against a deleted or unknown entity.
func IsStaleState(err error) bool { return hasCode(err, ErrCodeStaleState) }

// IsNotificationAborted reports whether the notification port vetoed the request.
func IsNotificationAborted(err error) bool { return hasCode(err, ErrCodeNotificationAborted) }

// IsNoChange reports whether the request was dropped as a no-op.
func IsNoChange(err error) bool { return hasCode(err, ErrCodeNoChange) }

// IsStopped reports whether the request arrived after the loop stopped.
func IsStopped(err error) bool { return hasCode(err, ErrCodeStopped) }

// Accepted is the boolean view of a request error.
func Accepted(err error) bool {
	return err == nil
}
