package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type Subscription struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"user_id"`
	Plan               string          `json:"plan"`
	Status             string          `json:"status"`
	TrialStart         *time.Time      `json:"trial_start,omitempty"`
	TrialEnd           *time.Time      `json:"trial_end,omitempty"`
	CurrentPeriodStart *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time      `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool            `json:"cancel_at_period_end"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
	ProviderSubID      string          `json:"provider_subscription_id,omitempty"`
	ProviderCustomerID string          `json:"provider_customer_id,omitempty"`
	LastPaymentDate    *time.Time      `json:"last_payment_date,omitempty"`
	NextPaymentDate    *time.Time      `json:"next_payment_date,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsTrialActive reports whether the subscription is in a trial that has not ended.
func (s *Subscription) IsTrialActive(now time.Time) bool {
	return s.Status == SubscriptionTrial && s.TrialEnd != nil && now.Before(*s.TrialEnd)
}

// IsActive reports whether the subscription currently grants access.
func (s *Subscription) IsActive(now time.Time) bool {
	switch s.Status {
	case SubscriptionActive:
		return true
	case SubscriptionTrial:
		return s.IsTrialActive(now)
	default:
		return false
	}
}

// DaysUntilTrialEnd returns the whole days left in the trial, or 0.
func (s *Subscription) DaysUntilTrialEnd(now time.Time) int {
	if !s.IsTrialActive(now) {
		return 0
	}
	return int(math.Floor(s.TrialEnd.Sub(now).Hours() / 24))
}

// WebhookEvent is a normalized payment-provider notification.
type WebhookEvent struct {
	ID            string `json:"id"`
	Topic         string `json:"topic"` // payment, subscription
	Status        string `json:"status"`
	ProviderSubID string `json:"subscription_id,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
	Plan          string `json:"plan,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
}
