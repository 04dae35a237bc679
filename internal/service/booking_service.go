package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"studioflow/internal/booking"
	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/metrics"
	"studioflow/internal/models"
	"studioflow/internal/worker"
)

// CreateBookingInput is a reservation request. Status may be empty (pending).
type CreateBookingInput struct {
	RoomID int64
	Start  time.Time
	End    time.Time
	Price  *decimal.Decimal
	Status string
	Notes  string
}

type BookingService struct {
	bookings   domain.BookingRepository
	rooms      domain.RoomRepository
	subs       domain.SubscriptionChecker
	limiter    domain.RateLimiter
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	validator  *booking.Validator
	retry      worker.RetryPolicy
	cfg        config.BookingConfig
	logger     *zerolog.Logger
}

func NewBookingService(
	bookings domain.BookingRepository,
	rooms domain.RoomRepository,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	retries := cfg.StoreRetries
	if retries <= 0 {
		retries = 3
	}
	return &BookingService{
		bookings:   bookings,
		rooms:      rooms,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		validator:  booking.NewValidator(nil),
		retry: worker.RetryPolicy{
			MaxRetries:    retries,
			InitialDelay:  20 * time.Millisecond,
			MaxDelay:      200 * time.Millisecond,
			BackoffFactor: 2,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// WithSubscriptionGate makes non-staff creation depend on an active subscription.
func (s *BookingService) WithSubscriptionGate(checker domain.SubscriptionChecker) *BookingService {
	s.subs = checker
	return s
}

// WithRateLimiter limits creations per requester using cfg.CreateRateLimit.
func (s *BookingService) WithRateLimiter(limiter domain.RateLimiter) *BookingService {
	s.limiter = limiter
	return s
}

// WithClock replaces the time source used for past-start checks.
func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.validator = booking.NewValidator(now)
	return s
}

func (s *BookingService) CreateBooking(ctx context.Context, actor models.Actor, in CreateBookingInput) (*models.Booking, error) {
	if err := s.checkRateLimit(ctx, actor); err != nil {
		return nil, err
	}
	if err := s.checkSubscription(ctx, actor); err != nil {
		return nil, err
	}

	iv, err := s.validateInterval(booking.Candidate{Start: in.Start, End: in.End})
	if err != nil {
		return nil, err
	}

	status := models.StatusPending
	if in.Status != "" {
		if status, err = booking.ParseStatus(in.Status); err != nil {
			return nil, err
		}
		if !booking.IsActive(status) {
			return nil, fmt.Errorf("%w: new bookings must be pending or confirmed", booking.ErrInvalidStatus)
		}
	}

	room, err := s.bookableRoom(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}

	price, err := s.resolvePrice(in.Price, room, iv)
	if err != nil {
		return nil, err
	}

	b := &models.Booking{
		RoomID:      room.ID,
		RoomName:    room.Name,
		RequesterID: actor.UserID,
		StartTime:   iv.Start,
		EndTime:     iv.End,
		TotalPrice:  price,
		Status:      status,
		Notes:       in.Notes,
	}

	err = s.retry.Do(ctx, isStoreBusy, func() error {
		return s.bookings.CreateBookingWithLock(ctx, b, func(overlapping []*models.Booking) error {
			return s.validator.Validate(booking.Candidate{Start: iv.Start, End: iv.End}, overlapping)
		})
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	metrics.IncBookingCreated()
	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("room_id", b.RoomID).
		Int64("requester_id", b.RequesterID).
		Time("start", b.StartTime).
		Time("end", b.EndTime).
		Str("total_price", b.TotalPrice.StringFixed(2)).
		Msg("booking created")

	s.publishEvent(events.EventBookingCreated, b, actor.UserID)
	s.enqueueSync(ctx, b, worker.TaskUpsert)
	return b, nil
}

// UpdateBookingInterval moves a booking, revalidating it against every other
// active booking of the room and recomputing its price.
func (s *BookingService) UpdateBookingInterval(ctx context.Context, actor models.Actor, id int64, start, end time.Time, explicitPrice *decimal.Decimal) (*models.Booking, error) {
	iv, err := s.validateInterval(booking.Candidate{ID: id, Start: start, End: end})
	if err != nil {
		return nil, err
	}

	var updated *models.Booking
	err = s.retry.Do(ctx, isRetryableWrite, func() error {
		current, err := s.accessibleBooking(ctx, actor, id)
		if err != nil {
			return err
		}
		if booking.IsTerminal(current.Status) {
			return fmt.Errorf("%w: a %s booking cannot be moved", booking.ErrTerminalState, current.Status)
		}

		room, err := s.bookableRoom(ctx, current.RoomID)
		if err != nil {
			return err
		}
		price, err := s.resolvePrice(explicitPrice, room, iv)
		if err != nil {
			return err
		}

		next := *current
		next.StartTime = iv.Start
		next.EndTime = iv.End
		next.TotalPrice = price
		err = s.bookings.UpdateBookingIntervalWithLock(ctx, &next, func(overlapping []*models.Booking) error {
			return s.validator.Validate(booking.Candidate{ID: id, Start: iv.Start, End: iv.End}, overlapping)
		})
		if err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.logger.Info().Int64("booking_id", id).Time("start", updated.StartTime).Time("end", updated.EndTime).Msg("booking rescheduled")
	s.publishEvent(events.EventBookingRescheduled, updated, actor.UserID)
	s.enqueueSync(ctx, updated, worker.TaskUpsert)
	return updated, nil
}

// UpdateBookingStatus applies a guarded status transition.
func (s *BookingService) UpdateBookingStatus(ctx context.Context, actor models.Actor, id int64, rawStatus string) (*models.Booking, error) {
	status, err := booking.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	var (
		from    string
		updated *models.Booking
	)
	err = s.retry.Do(ctx, isRetryableWrite, func() error {
		current, err := s.accessibleBooking(ctx, actor, id)
		if err != nil {
			return err
		}
		if err := booking.CheckTransition(current.Status, status); err != nil {
			return err
		}

		from = current.Status
		if from == status {
			updated = current
			return nil
		}
		if err := s.bookings.UpdateBookingStatusWithVersion(ctx, id, current.Version, status); err != nil {
			return err
		}

		next := *current
		next.Status = status
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from == status {
		return updated, nil
	}

	metrics.IncTransition(from, status)
	s.logger.Info().Int64("booking_id", id).Str("from", from).Str("to", status).Int64("actor_id", actor.UserID).Msg("booking status changed")

	if eventType, ok := statusEvents[status]; ok {
		s.publishEvent(eventType, updated, actor.UserID)
	}
	s.enqueueSync(ctx, updated, worker.TaskUpdateStatus)
	return updated, nil
}

var statusEvents = map[string]string{
	models.StatusConfirmed: events.EventBookingConfirmed,
	models.StatusCanceled:  events.EventBookingCanceled,
	models.StatusCompleted: events.EventBookingCompleted,
}

// CheckAvailability reports whether the room is free in [start, end).
// It is advisory: the answer may be stale by the time a write happens.
func (s *BookingService) CheckAvailability(ctx context.Context, roomID int64, start, end time.Time, excludeID int64) (*models.Availability, error) {
	iv, err := booking.NewInterval(start, end)
	if err != nil {
		return nil, err
	}
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	overlapping, err := s.bookings.FindOverlapping(ctx, roomID, iv.Start, iv.End, excludeID)
	if err != nil {
		return nil, err
	}
	conflicts := booking.FindConflicts(iv, overlapping, excludeID)
	if conflicts == nil {
		conflicts = []*models.Booking{}
	}

	return &models.Availability{
		RoomID:      roomID,
		Start:       iv.Start,
		End:         iv.End,
		IsAvailable: len(conflicts) == 0,
		Conflicts:   conflicts,
	}, nil
}

func (s *BookingService) DeleteBooking(ctx context.Context, actor models.Actor, id int64) error {
	b, err := s.accessibleBooking(ctx, actor, id)
	if err != nil {
		return err
	}

	err = s.retry.Do(ctx, isStoreBusy, func() error {
		return s.bookings.DeleteBooking(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Int64("booking_id", id).Int64("actor_id", actor.UserID).Msg("booking deleted")
	s.publishEvent(events.EventBookingDeleted, b, actor.UserID)
	s.enqueueSync(ctx, b, worker.TaskDelete)
	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	return s.accessibleBooking(ctx, actor, id)
}

// ListBookings returns every matching booking for staff and only the caller's
// own bookings for everybody else.
func (s *BookingService) ListBookings(ctx context.Context, actor models.Actor, filter models.BookingFilter) ([]*models.Booking, error) {
	if !actor.IsStaff {
		filter.RequesterID = actor.UserID
	}
	if filter.Status != "" {
		status, err := booking.ParseStatus(filter.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.bookings.ListBookings(ctx, filter)
}

// BookingsInRange feeds the schedule export.
func (s *BookingService) BookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	if !from.Before(to) {
		return nil, booking.ErrInvalidInterval
	}
	return s.bookings.GetBookingsByRange(ctx, from, to)
}

func (s *BookingService) validateInterval(c booking.Candidate) (booking.Interval, error) {
	iv, err := s.validator.ValidateInterval(c)
	if err != nil {
		return booking.Interval{}, err
	}
	if s.cfg.MaxAdvanceDays > 0 && iv.Start.After(s.validator.Now().AddDate(0, 0, s.cfg.MaxAdvanceDays)) {
		return booking.Interval{}, booking.ErrDateTooFar
	}
	return iv, nil
}

func (s *BookingService) bookableRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if s.cfg.RespectRoomAvailability && !room.IsAvailable {
		return nil, booking.ErrResourceUnavailable
	}
	return room, nil
}

func (s *BookingService) resolvePrice(explicit *decimal.Decimal, room *models.Room, iv booking.Interval) (decimal.Decimal, error) {
	if booking.IgnoresExplicitPrice(explicit, s.cfg.AllowPriceOverride) {
		s.logger.Debug().Int64("room_id", room.ID).Str("requested_price", explicit.String()).Msg("explicit price ignored, using room rate")
	}
	return booking.ResolvePrice(explicit, room.HourlyPrice, iv, s.cfg.AllowPriceOverride)
}

func (s *BookingService) accessibleBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(b) {
		return nil, booking.ErrForbidden
	}
	return b, nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, actor models.Actor) error {
	if s.limiter == nil || s.cfg.CreateRateLimit <= 0 || actor.IsStaff {
		return nil
	}
	key := fmt.Sprintf("booking_create:%d", actor.UserID)
	allowed, err := s.limiter.CheckRateLimit(ctx, key, s.cfg.CreateRateLimit, s.cfg.CreateRateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Int64("requester_id", actor.UserID).Msg("rate limiter unavailable, allowing request")
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *BookingService) checkSubscription(ctx context.Context, actor models.Actor) error {
	if s.subs == nil || actor.IsStaff {
		return nil
	}
	active, err := s.subs.IsActive(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !active {
		return domain.ErrSubscriptionRequired
	}
	return nil
}

func (s *BookingService) observeFailure(err error) {
	if errors.Is(err, booking.ErrSchedulingConflict) {
		metrics.IncBookingConflict()
		s.logger.Debug().Int("conflicts", len(booking.ConflictsOf(err))).Msg("booking rejected by conflict check")
		return
	}
	if !booking.IsValidationError(err) {
		s.logger.Error().Err(err).Msg("booking write failed")
	}
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, changedByID int64) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:   b.ID,
		RoomID:      b.RoomID,
		RoomName:    b.RoomName,
		RequesterID: b.RequesterID,
		Status:      b.Status,
		StartTime:   b.StartTime,
		EndTime:     b.EndTime,
		TotalPrice:  b.TotalPrice.StringFixed(2),
		ChangedByID: changedByID,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, b *models.Booking, taskType string) {
	if s.syncWorker == nil {
		return
	}

	var status string
	if taskType == worker.TaskUpdateStatus {
		status = b.Status
	}
	if err := s.syncWorker.EnqueueTask(ctx, taskType, b.ID, b, status); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Str("task", taskType).Msg("sync enqueue error")
	}
}

func isStoreBusy(err error) bool {
	return errors.Is(err, domain.ErrStoreBusy)
}

func isRetryableWrite(err error) bool {
	return errors.Is(err, domain.ErrStoreBusy) || errors.Is(err, domain.ErrConcurrentModification)
}
