package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studioflow/internal/booking"
	"studioflow/internal/domain"
	"studioflow/internal/models"
)

const bookingSelect = `SELECT b.id, b.room_id, COALESCE(r.name, ''), b.requester_id, b.start_time, b.end_time,
                              b.total_price, b.status, b.notes, b.created_at, b.updated_at, b.version
                       FROM bookings b LEFT JOIN rooms r ON r.id = b.room_id`

var activeStatuses = []any{models.StatusPending, models.StatusConfirmed}

// CreateBookingWithLock inserts booking if check accepts the overlapping active
// bookings read in the same IMMEDIATE transaction.
func (db *DB) CreateBookingWithLock(ctx context.Context, b *models.Booking, check domain.ConflictCheck) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	overlapping, err := findOverlapping(ctx, tx, b.RoomID, b.StartTime, b.EndTime, 0)
	if err != nil {
		return fmt.Errorf("failed to check conflicts in tx: %w", err)
	}
	if check != nil {
		if err := check(overlapping); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
				room_id, requester_id, start_time, end_time, total_price,
				status, notes, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		b.RoomID,
		b.RequesterID,
		utc(b.StartTime),
		utc(b.EndTime),
		b.TotalPrice.StringFixed(2),
		b.Status,
		b.Notes,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", classify(err))
	}

	b.ID = id
	b.StartTime = utc(b.StartTime)
	b.EndTime = utc(b.EndTime)
	b.TotalPrice = b.TotalPrice.Round(2)
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

// UpdateBookingIntervalWithLock moves booking to its new interval and price.
// booking.Version must match the stored row.
func (db *DB) UpdateBookingIntervalWithLock(ctx context.Context, b *models.Booking, check domain.ConflictCheck) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanBooking(tx.QueryRowContext(ctx, bookingSelect+` WHERE b.id = ?`, b.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load booking in tx: %w", classify(err))
	}
	if current.Version != b.Version {
		return domain.ErrConcurrentModification
	}

	overlapping, err := findOverlapping(ctx, tx, current.RoomID, b.StartTime, b.EndTime, b.ID)
	if err != nil {
		return fmt.Errorf("failed to check conflicts in tx: %w", err)
	}
	if check != nil {
		if err := check(overlapping); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `UPDATE bookings
              SET start_time = ?, end_time = ?, total_price = ?, version = version + 1, updated_at = ?
              WHERE id = ?`,
		utc(b.StartTime), utc(b.EndTime), b.TotalPrice.StringFixed(2), now, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update booking interval: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking update: %w", classify(err))
	}

	b.RoomID = current.RoomID
	b.RoomName = current.RoomName
	b.RequesterID = current.RequesterID
	b.Status = current.Status
	b.Notes = current.Notes
	b.CreatedAt = current.CreatedAt
	b.StartTime = utc(b.StartTime)
	b.EndTime = utc(b.EndTime)
	b.TotalPrice = b.TotalPrice.Round(2)
	b.UpdatedAt = now
	b.Version = current.Version + 1
	return nil
}

// FindOverlapping returns active bookings of the room overlapping [start, end).
func (db *DB) FindOverlapping(ctx context.Context, roomID int64, start, end time.Time, excludeID int64) ([]*models.Booking, error) {
	bookings, err := findOverlapping(ctx, db.DB, roomID, start, end, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	return bookings, nil
}

func findOverlapping(ctx context.Context, q queryer, roomID int64, start, end time.Time, excludeID int64) ([]*models.Booking, error) {
	query := bookingSelect + `
              WHERE b.room_id = ? AND b.status IN (?, ?)
                AND b.start_time < ? AND b.end_time > ? AND b.id <> ?
              ORDER BY b.start_time ASC`
	args := append([]any{roomID}, activeStatuses...)
	args = append(args, utc(end), utc(start), excludeID)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return collectBookings(rows)
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, bookingSelect+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListBookings returns bookings matching filter, newest start first.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var where []string
	var args []any

	if filter.RoomID != 0 {
		where = append(where, "b.room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.RequesterID != 0 {
		where = append(where, "b.requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		where = append(where, "b.end_time > ?")
		args = append(args, utc(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "b.start_time < ?")
		args = append(args, utc(filter.To))
	}

	query := bookingSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.start_time DESC, b.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return collectBookings(rows)
}

// GetBookingsByRange returns every booking touching [from, to) in chronological order.
func (db *DB) GetBookingsByRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, bookingSelect+`
              WHERE b.start_time < ? AND b.end_time > ?
              ORDER BY b.start_time ASC, b.room_id ASC`, utc(to), utc(from))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by range: %w", err)
	}
	return collectBookings(rows)
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", classify(err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

func (db *DB) DeleteBooking(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func scanBooking(rs rowScanner) (*models.Booking, error) {
	var b models.Booking
	err := rs.Scan(
		&b.ID, &b.RoomID, &b.RoomName, &b.RequesterID, &b.StartTime, &b.EndTime,
		&b.TotalPrice, &b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}
