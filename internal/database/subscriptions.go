package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studioflow/internal/domain"
	"studioflow/internal/models"
)

const subscriptionColumns = `id, user_id, plan, status, trial_start, trial_end, current_period_start,
        current_period_end, cancel_at_period_end, canceled_at, provider_subscription_id,
        provider_customer_id, last_payment_date, next_payment_date, amount, currency,
        created_at, updated_at`

// CreateSubscription fails with domain.ErrDuplicate when the user already has one.
func (db *DB) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `INSERT INTO subscriptions (
                user_id, plan, status, trial_start, trial_end, current_period_start,
                current_period_end, cancel_at_period_end, canceled_at, provider_subscription_id,
                provider_customer_id, last_payment_date, next_payment_date, amount, currency,
                created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.Plan, sub.Status,
		utcPtr(sub.TrialStart), utcPtr(sub.TrialEnd),
		utcPtr(sub.CurrentPeriodStart), utcPtr(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd, utcPtr(sub.CanceledAt),
		sub.ProviderSubID, sub.ProviderCustomerID,
		utcPtr(sub.LastPaymentDate), utcPtr(sub.NextPaymentDate),
		sub.Amount.StringFixed(2), sub.Currency,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

func (db *DB) GetSubscriptionByUser(ctx context.Context, userID int64) (*models.Subscription, error) {
	return db.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID)
}

func (db *DB) GetSubscriptionByProviderID(ctx context.Context, providerSubID string) (*models.Subscription, error) {
	if providerSubID == "" {
		return nil, domain.ErrSubscriptionNotFound
	}
	return db.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_id = ?`, providerSubID)
}

func (db *DB) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `UPDATE subscriptions SET
                plan = ?, status = ?, trial_start = ?, trial_end = ?, current_period_start = ?,
                current_period_end = ?, cancel_at_period_end = ?, canceled_at = ?,
                provider_subscription_id = ?, provider_customer_id = ?, last_payment_date = ?,
                next_payment_date = ?, amount = ?, currency = ?, updated_at = ?
            WHERE id = ?`,
		sub.Plan, sub.Status,
		utcPtr(sub.TrialStart), utcPtr(sub.TrialEnd),
		utcPtr(sub.CurrentPeriodStart), utcPtr(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd, utcPtr(sub.CanceledAt),
		sub.ProviderSubID, sub.ProviderCustomerID,
		utcPtr(sub.LastPaymentDate), utcPtr(sub.NextPaymentDate),
		sub.Amount.StringFixed(2), sub.Currency,
		now, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrSubscriptionNotFound
	}
	sub.UpdatedAt = now
	return nil
}

func (db *DB) getSubscription(ctx context.Context, query string, arg any) (*models.Subscription, error) {
	var s models.Subscription
	err := db.QueryRowContext(ctx, query, arg).Scan(
		&s.ID, &s.UserID, &s.Plan, &s.Status, &s.TrialStart, &s.TrialEnd, &s.CurrentPeriodStart,
		&s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.CanceledAt, &s.ProviderSubID,
		&s.ProviderCustomerID, &s.LastPaymentDate, &s.NextPaymentDate, &s.Amount, &s.Currency,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &s, nil
}
