package booking

import (
	"time"

	"studioflow/internal/models"
)

// Candidate is a booking interval about to be written. ID is zero on create.
type Candidate struct {
	ID    int64
	Start time.Time
	End   time.Time
}

// Validator applies the booking rules in a fixed order: interval shape, then
// start time, then conflicts. The first failing rule wins.
type Validator struct {
	now func() time.Time
}

func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Now returns the validator's clock reading.
func (v *Validator) Now() time.Time {
	return v.now()
}

// ValidateInterval runs the checks that need no stored bookings.
func (v *Validator) ValidateInterval(c Candidate) (Interval, error) {
	iv, err := NewInterval(c.Start, c.End)
	if err != nil {
		return Interval{}, err
	}
	if iv.Start.Before(v.now()) {
		return Interval{}, ErrPastStartTime
	}
	return iv, nil
}

// Validate runs every check against the bookings already stored for the room.
// Writers call it inside the store transaction with the overlapping rows.
func (v *Validator) Validate(c Candidate, existing []*models.Booking) error {
	iv, err := v.ValidateInterval(c)
	if err != nil {
		return err
	}
	return CheckConflicts(iv, existing, c.ID)
}

// CheckConflicts returns a *ConflictError when iv overlaps an active booking other than excludeID.
func CheckConflicts(iv Interval, existing []*models.Booking, excludeID int64) error {
	if conflicts := FindConflicts(iv, existing, excludeID); len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// FindConflicts filters existing down to active bookings overlapping iv.
func FindConflicts(iv Interval, existing []*models.Booking, excludeID int64) []*models.Booking {
	var conflicts []*models.Booking
	for _, b := range existing {
		if excludeID != 0 && b.ID == excludeID {
			continue
		}
		if !IsActive(b.Status) {
			continue
		}
		if Overlaps(iv, IntervalOf(b)) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts
}
