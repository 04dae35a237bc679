package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCanceled  = "canceled"
	StatusCompleted = "completed"
)

const (
	UserTypeAdmin    = "ADMIN"
	UserTypeClient   = "CLIENTE"
	UserTypeProvider = "PRESTADOR"
)

const (
	SubscriptionTrial    = "TRIAL"
	SubscriptionActive   = "ACTIVE"
	SubscriptionPastDue  = "PAST_DUE"
	SubscriptionCanceled = "CANCELED"
	SubscriptionUnpaid   = "UNPAID"
)

const (
	// DefaultTrialDays is the length of the free trial granted on registration.
	DefaultTrialDays = 15

	// DefaultBillingPeriodDays is the length of a paid period.
	DefaultBillingPeriodDays = 30

	// DefaultPlan is assigned to new trial subscriptions.
	DefaultPlan = "studioflow_basic"

	// DefaultCurrency for plan amounts.
	DefaultCurrency = "BRL"

	// WorkerQueueSize is the in-memory outbox channel capacity.
	WorkerQueueSize = 1000

	// RoomsCacheTTL is how long the room catalog is served from memory.
	RoomsCacheTTL = 30 * 60 // seconds

	// SheetsCacheTTL is how long booking row positions are cached.
	SheetsCacheTTL = 60 * 60 // seconds
)
