package booking

import (
	"errors"
	"fmt"

	"studioflow/internal/models"
)

var (
	ErrInvalidInterval       = errors.New("invalid interval: start must be before end")
	ErrPastStartTime         = errors.New("start time is in the past")
	ErrSchedulingConflict    = errors.New("scheduling conflict")
	ErrTerminalState         = errors.New("booking is in a terminal state")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidTimeFormat     = errors.New("invalid time format")
	ErrInvalidPrice          = errors.New("price must not be negative")
	ErrResourceNotFound      = errors.New("room not found")
	ErrResourceUnavailable   = errors.New("room is not available for booking")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrDateTooFar            = errors.New("start time is too far in the future")
	ErrForbidden             = errors.New("not allowed to access this booking")
)

// ConflictError is returned when a candidate interval overlaps active bookings.
// errors.Is(err, ErrSchedulingConflict) holds for it.
type ConflictError struct {
	Conflicts []*models.Booking
}

func (e *ConflictError) Error() string {
	ids := make([]int64, 0, len(e.Conflicts))
	for _, b := range e.Conflicts {
		ids = append(ids, b.ID)
	}
	return fmt.Sprintf("%s with bookings %v", ErrSchedulingConflict, ids)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSchedulingConflict
}

// ConflictsOf extracts the conflicting bookings from err, if any.
func ConflictsOf(err error) []*models.Booking {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Conflicts
	}
	return nil
}

// IsValidationError reports whether err is a caller mistake that must not be retried.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidInterval, ErrPastStartTime, ErrSchedulingConflict, ErrTerminalState,
		ErrInvalidTransition, ErrInvalidStatus, ErrInvalidTimeFormat, ErrInvalidPrice,
		ErrResourceNotFound, ErrResourceUnavailable,
		ErrBookingNotFound, ErrDateTooFar, ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
