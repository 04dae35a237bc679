package models

import "time"

// Availability is the answer to "is room R free in [Start, End)?".
type Availability struct {
	RoomID      int64      `json:"room_id"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	IsAvailable bool       `json:"is_available"`
	Conflicts   []*Booking `json:"conflicts"`
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID  int64
	IsStaff bool
}

// CanAccess reports whether the actor may read or change the booking.
func (a Actor) CanAccess(b *Booking) bool {
	return a.IsStaff || b.RequesterID == a.UserID
}
