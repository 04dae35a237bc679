package booking

import (
	"fmt"
	"strings"

	"studioflow/internal/models"
)

var statusAliases = map[string]string{
	models.StatusPending:   models.StatusPending,
	models.StatusConfirmed: models.StatusConfirmed,
	models.StatusCanceled:  models.StatusCanceled,
	"cancelled":            models.StatusCanceled,
	models.StatusCompleted: models.StatusCompleted,
	"pendente":             models.StatusPending,
	"confirmado":           models.StatusConfirmed,
	"cancelado":            models.StatusCanceled,
	"concluido":            models.StatusCompleted,
	"concluído":            models.StatusCompleted,
}

// ParseStatus normalizes a client supplied status.
func ParseStatus(raw string) (string, error) {
	status, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// IsActive reports whether bookings in this status block the room.
func IsActive(status string) bool {
	return status == models.StatusPending || status == models.StatusConfirmed
}

func isKnownStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusConfirmed, models.StatusCanceled, models.StatusCompleted:
		return true
	}
	return false
}

func IsTerminal(status string) bool {
	return status == models.StatusCanceled || status == models.StatusCompleted
}

// CheckTransition guards every status change of a booking.
func CheckTransition(from, to string) error {
	if !isKnownStatus(to) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if from == to {
		return nil
	}
	if IsTerminal(from) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrTerminalState, from, to)
	}

	switch from {
	case models.StatusPending:
		return nil
	case models.StatusConfirmed:
		if to == models.StatusCanceled || to == models.StatusCompleted {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
