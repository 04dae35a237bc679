package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"studioflow/internal/booking"
	"studioflow/internal/domain"
	"studioflow/internal/models"
	"studioflow/internal/service"
)

const BookingServiceName = "studioflow.booking.v1.BookingService"

type CreateBookingRequest struct {
	RoomID    int64  `json:"room_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Price     string `json:"price,omitempty"`
	Status    string `json:"status,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type UpdateBookingIntervalRequest struct {
	ID        int64  `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Price     string `json:"price,omitempty"`
}

type UpdateBookingStatusRequest struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type CheckAvailabilityRequest struct {
	RoomID    int64  `json:"room_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	ExcludeID int64  `json:"exclude_id,omitempty"`
}

type BookingIDRequest struct {
	ID int64 `json:"id"`
}

type DeleteBookingReply struct {
	Deleted bool `json:"deleted"`
}

// BookingServiceServer is the RPC surface of the booking engine.
type BookingServiceServer interface {
	CreateBooking(context.Context, *CreateBookingRequest) (*models.Booking, error)
	UpdateBookingInterval(context.Context, *UpdateBookingIntervalRequest) (*models.Booking, error)
	UpdateBookingStatus(context.Context, *UpdateBookingStatusRequest) (*models.Booking, error)
	CheckAvailability(context.Context, *CheckAvailabilityRequest) (*models.Availability, error)
	GetBooking(context.Context, *BookingIDRequest) (*models.Booking, error)
	DeleteBooking(context.Context, *BookingIDRequest) (*DeleteBookingReply, error)
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: BookingServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateBooking", BookingServiceServer.CreateBooking),
		unaryMethod("UpdateBookingInterval", BookingServiceServer.UpdateBookingInterval),
		unaryMethod("UpdateBookingStatus", BookingServiceServer.UpdateBookingStatus),
		unaryMethod("CheckAvailability", BookingServiceServer.CheckAvailability),
		unaryMethod("GetBooking", BookingServiceServer.GetBooking),
		unaryMethod("DeleteBooking", BookingServiceServer.DeleteBooking),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studioflow/booking/v1/booking.json",
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&bookingServiceDesc, srv)
}

func unaryMethod[Req, Resp any](name string, call func(BookingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + BookingServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(BookingServiceServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(impl, ctx, req.(*Req))
			})
		},
	}
}

// BookingRPC adapts the booking service to BookingServiceServer.
type BookingRPC struct {
	bookings *service.BookingService
	users    *service.UserService
}

var _ BookingServiceServer = (*BookingRPC)(nil)

func NewBookingRPC(bookings *service.BookingService, users *service.UserService) *BookingRPC {
	return &BookingRPC{bookings: bookings, users: users}
}

func (s *BookingRPC) actor(ctx context.Context) (models.Actor, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return models.Actor{}, status.Error(codes.Unauthenticated, "user id is required")
	}
	actor, err := s.users.ResolveActor(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return models.Actor{}, status.Error(codes.Unauthenticated, "unknown user")
	}
	if err != nil {
		return models.Actor{}, grpcError(err)
	}
	return actor, nil
}

func (s *BookingRPC) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*models.Booking, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if req.RoomID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "room_id is required")
	}
	start, end, err := parseTimes(req.StartTime, req.EndTime)
	if err != nil {
		return nil, grpcError(err)
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		return nil, grpcError(err)
	}

	b, err := s.bookings.CreateBooking(ctx, actor, service.CreateBookingInput{
		RoomID: req.RoomID,
		Start:  start,
		End:    end,
		Price:  price,
		Status: req.Status,
		Notes:  strings.TrimSpace(req.Notes),
	})
	return b, grpcError(err)
}

func (s *BookingRPC) UpdateBookingInterval(ctx context.Context, req *UpdateBookingIntervalRequest) (*models.Booking, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	start, end, err := parseTimes(req.StartTime, req.EndTime)
	if err != nil {
		return nil, grpcError(err)
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		return nil, grpcError(err)
	}

	b, err := s.bookings.UpdateBookingInterval(ctx, actor, req.ID, start, end, price)
	return b, grpcError(err)
}

func (s *BookingRPC) UpdateBookingStatus(ctx context.Context, req *UpdateBookingStatusRequest) (*models.Booking, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.UpdateBookingStatus(ctx, actor, req.ID, req.Status)
	return b, grpcError(err)
}

func (s *BookingRPC) CheckAvailability(ctx context.Context, req *CheckAvailabilityRequest) (*models.Availability, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	start, end, err := parseTimes(req.StartTime, req.EndTime)
	if err != nil {
		return nil, grpcError(err)
	}
	av, err := s.bookings.CheckAvailability(ctx, req.RoomID, start, end, req.ExcludeID)
	return av, grpcError(err)
}

func (s *BookingRPC) GetBooking(ctx context.Context, req *BookingIDRequest) (*models.Booking, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetBooking(ctx, actor, req.ID)
	return b, grpcError(err)
}

func (s *BookingRPC) DeleteBooking(ctx context.Context, req *BookingIDRequest) (*DeleteBookingReply, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.bookings.DeleteBooking(ctx, actor, req.ID); err != nil {
		return nil, grpcError(err)
	}
	return &DeleteBookingReply{Deleted: true}, nil
}

func parsePrice(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", booking.ErrInvalidPrice, raw)
	}
	return &d, nil
}
