package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is a reservation of a room for the half-open interval [StartTime, EndTime).
type Booking struct {
	ID          int64           `json:"id"`
	RoomID      int64           `json:"room_id"`
	RoomName    string          `json:"room_name,omitempty"`
	RequesterID int64           `json:"requester_id"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      string          `json:"status"` // pending, confirmed, canceled, completed
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}

// Duration returns the booked time span.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// BookingFilter narrows ListBookings. Zero values mean "any".
type BookingFilter struct {
	RoomID      int64
	RequesterID int64
	Status      string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}
