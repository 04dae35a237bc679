package domain

import "errors"

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrDuplicate              = errors.New("record already exists")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrStoreBusy              = errors.New("store is busy")

	ErrSubscriptionRequired = errors.New("an active subscription is required")
	ErrRateLimited          = errors.New("too many requests")
	ErrCannotReactivate     = errors.New("only canceled subscriptions can be reactivated")
	ErrUnknownPlan          = errors.New("unknown subscription plan")
	ErrInvalidUser          = errors.New("invalid user")
	ErrInvalidWebhook       = errors.New("invalid webhook payload")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrInvalidFilter        = errors.New("invalid filter")
)
