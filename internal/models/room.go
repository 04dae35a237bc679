package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Room is a bookable studio room ("sala").
type Room struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Capacity    int             `json:"capacity"`
	HourlyPrice decimal.Decimal `json:"hourly_price"`
	Description string          `json:"description,omitempty"`
	IsAvailable bool            `json:"is_available"`
	SortOrder   int64           `json:"sort_order"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RoomFilter narrows a catalog listing. Zero values match everything.
// OrderBy is one of name, capacity or hourly_price, with a leading "-" for
// descending order. Empty keeps the catalog's sort order.
type RoomFilter struct {
	Available   *bool
	MinCapacity int
	Query       string
	OrderBy     string
}
