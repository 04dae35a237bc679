package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"studioflow/internal/booking"
	"studioflow/internal/domain"
	"studioflow/internal/models"
)

type RoomService struct {
	repo   domain.RoomRepository
	logger *zerolog.Logger
}

func NewRoomService(repo domain.RoomRepository, logger *zerolog.Logger) *RoomService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RoomService{repo: repo, logger: logger}
}

// ListRooms returns the catalog rooms matching filter.
func (s *RoomService) ListRooms(ctx context.Context, filter models.RoomFilter) ([]*models.Room, error) {
	less, err := roomOrdering(filter.OrderBy)
	if err != nil {
		return nil, err
	}
	if filter.MinCapacity < 0 {
		return nil, fmt.Errorf("%w: min_capacity must not be negative", domain.ErrInvalidFilter)
	}

	rooms, err := s.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := rooms[:0]
	for _, r := range rooms {
		if filter.Available != nil && r.IsAvailable != *filter.Available {
			continue
		}
		if r.Capacity < filter.MinCapacity {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(r.Name), query) &&
			!strings.Contains(strings.ToLower(r.Description), query) {
			continue
		}
		matched = append(matched, r)
	}

	if less != nil {
		sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	}
	return matched, nil
}

func roomOrdering(orderBy string) (func(a, b *models.Room) bool, error) {
	field := strings.TrimSpace(orderBy)
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")

	var less func(a, b *models.Room) bool
	switch field {
	case "":
		return nil, nil
	case "name":
		less = func(a, b *models.Room) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case "capacity":
		less = func(a, b *models.Room) bool { return a.Capacity < b.Capacity }
	case "hourly_price":
		less = func(a, b *models.Room) bool { return a.HourlyPrice.LessThan(b.HourlyPrice) }
	default:
		return nil, fmt.Errorf("%w: cannot order by %q", domain.ErrInvalidFilter, orderBy)
	}
	if desc {
		return func(a, b *models.Room) bool { return less(b, a) }, nil
	}
	return less, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	return s.repo.GetRoom(ctx, id)
}

// SetAvailability opens or closes a room for new bookings. Staff only.
func (s *RoomService) SetAvailability(ctx context.Context, actor models.Actor, id int64, available bool) (*models.Room, error) {
	if !actor.IsStaff {
		return nil, booking.ErrForbidden
	}
	if err := s.repo.SetRoomAvailability(ctx, id, available); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("room_id", id).Bool("available", available).Int64("changed_by", actor.UserID).Msg("room availability changed")
	return s.repo.GetRoom(ctx, id)
}
