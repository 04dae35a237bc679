package domain

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"studioflow/internal/models"
)

// ConflictCheck runs inside the write transaction with the active bookings that
// overlap the candidate interval. A non-nil error aborts the write.
type ConflictCheck func(overlapping []*models.Booking) error

type BookingRepository interface {
	CreateBookingWithLock(ctx context.Context, booking *models.Booking, check ConflictCheck) error
	UpdateBookingIntervalWithLock(ctx context.Context, booking *models.Booking, check ConflictCheck) error
	FindOverlapping(ctx context.Context, roomID int64, start, end time.Time, excludeID int64) ([]*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	GetBookingsByRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id int64, version int64, status string) error
	DeleteBooking(ctx context.Context, id int64) error
}

type RoomRepository interface {
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
	SetRoomAvailability(ctx context.Context, id int64, available bool) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByUser(ctx context.Context, userID int64) (*models.Subscription, error)
	GetSubscriptionByProviderID(ctx context.Context, providerSubID string) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
}

// IdempotencyStore remembers processed keys for a while.
type IdempotencyStore interface {
	// MarkProcessed returns true when key was not seen before.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error
}

// ScheduleMirror is an external copy of the reservation schedule.
type ScheduleMirror interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	DeleteBookingRow(ctx context.Context, bookingID int64) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type SubscriptionChecker interface {
	IsActive(ctx context.Context, userID int64) (bool, error)
}

type TrialProvisioner interface {
	ProvisionTrialSubscription(ctx context.Context, userID int64) (*models.Subscription, error)
}
