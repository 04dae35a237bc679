package booking

import (
	"fmt"
	"strings"
	"time"

	"studioflow/internal/models"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval returns ErrInvalidInterval unless both ends are set and start < end.
func NewInterval(start, end time.Time) (Interval, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// IntervalOf returns the interval occupied by b.
func IntervalOf(b *models.Booking) Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether a and b share any instant. Intervals that only
// touch at a boundary do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses an ISO-8601 timestamp. Values without an offset are read as UTC.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimeFormat)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
}

// ParseInterval parses both ends and then checks ordering.
func ParseInterval(rawStart, rawEnd string) (Interval, error) {
	start, err := ParseTime(rawStart)
	if err != nil {
		return Interval{}, err
	}
	end, err := ParseTime(rawEnd)
	if err != nil {
		return Interval{}, err
	}
	return NewInterval(start, end)
}
