package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studioflow/internal/domain"
	"studioflow/internal/models"
)

const userColumns = `id, email, name, phone, user_type, is_staff, created_at, updated_at`

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	result, err := db.ExecContext(ctx, `INSERT INTO users (email, name, phone, user_type, is_staff, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Email, user.Name, user.Phone, user.UserType, user.IsStaff, now, now)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (db *DB) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	err := db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Name, &u.Phone, &u.UserType, &u.IsStaff, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
