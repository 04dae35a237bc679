package models

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	UserType  string    `json:"user_type"` // ADMIN, CLIENTE, PRESTADOR
	IsStaff   bool      `json:"is_staff"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsSubscription reports whether the user type gets a trial on registration.
func (u *User) NeedsSubscription() bool {
	return u.UserType == UserTypeClient || u.UserType == UserTypeProvider
}
