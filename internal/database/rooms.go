package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"studioflow/internal/booking"
	"studioflow/internal/models"
)

const roomColumns = `id, name, capacity, hourly_price, description, is_available, sort_order, created_at, updated_at`

// SyncRooms upserts the configured catalog and refreshes the cache.
func (db *DB) SyncRooms(ctx context.Context, rooms []models.Room) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  capacity = excluded.capacity,
                  hourly_price = excluded.hourly_price,
                  description = excluded.description,
                  is_available = excluded.is_available,
                  sort_order = excluded.sort_order,
                  updated_at = excluded.updated_at`

	now := time.Now().UTC()
	for i := range rooms {
		r := &rooms[i]
		_, err := tx.ExecContext(ctx, query,
			r.ID, r.Name, r.Capacity, r.HourlyPrice.StringFixed(2), r.Description,
			r.IsAvailable, r.SortOrder, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert room %d: %w", r.ID, classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rooms: %w", classify(err))
	}

	db.invalidateRooms()
	db.logger.Info().Int("count", len(rooms)).Msg("Room catalog synchronized")
	return nil
}

func (db *DB) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	if err := db.loadRooms(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	r, ok := db.roomsCache[id]
	db.mu.RUnlock()
	if !ok {
		return nil, booking.ErrResourceNotFound
	}
	return &r, nil
}

func (db *DB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	if err := db.loadRooms(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rooms := make([]*models.Room, 0, len(db.roomsCache))
	for _, r := range db.roomsCache {
		r := r
		rooms = append(rooms, &r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].SortOrder != rooms[j].SortOrder {
			return rooms[i].SortOrder < rooms[j].SortOrder
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (db *DB) SetRoomAvailability(ctx context.Context, id int64, available bool) error {
	result, err := db.ExecContext(ctx, `UPDATE rooms SET is_available = ?, updated_at = ? WHERE id = ?`,
		available, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update room availability: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return booking.ErrResourceNotFound
	}
	db.invalidateRooms()
	return nil
}

func (db *DB) invalidateRooms() {
	db.mu.Lock()
	db.roomsCachedAt = time.Time{}
	db.mu.Unlock()
}

func (db *DB) loadRooms(ctx context.Context) error {
	db.mu.RLock()
	fresh := time.Since(db.roomsCachedAt) <= models.RoomsCacheTTL*time.Second
	db.mu.RUnlock()
	if fresh {
		return nil
	}

	rows, err := db.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms`)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	cache := make(map[int64]models.Room)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return fmt.Errorf("failed to scan room: %w", err)
		}
		cache[r.ID] = *r
	}
	if err := rows.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	db.roomsCache = cache
	db.roomsCachedAt = time.Now()
	db.mu.Unlock()
	return nil
}

func scanRoom(rs rowScanner) (*models.Room, error) {
	var r models.Room
	err := rs.Scan(&r.ID, &r.Name, &r.Capacity, &r.HourlyPrice, &r.Description,
		&r.IsAvailable, &r.SortOrder, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
