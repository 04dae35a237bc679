package api

import (
	"context"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"studioflow/internal/models"
)

// BookingClient calls BookingServiceServer over a gRPC connection.
type BookingClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingClient(cc grpc.ClientConnInterface) *BookingClient {
	return &BookingClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+BookingServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingClient) CreateBooking(ctx context.Context, in *CreateBookingRequest, opts ...grpc.CallOption) (*models.Booking, error) {
	return invoke[models.Booking](ctx, c.cc, "CreateBooking", in, opts)
}

func (c *BookingClient) UpdateBookingInterval(ctx context.Context, in *UpdateBookingIntervalRequest, opts ...grpc.CallOption) (*models.Booking, error) {
	return invoke[models.Booking](ctx, c.cc, "UpdateBookingInterval", in, opts)
}

func (c *BookingClient) UpdateBookingStatus(ctx context.Context, in *UpdateBookingStatusRequest, opts ...grpc.CallOption) (*models.Booking, error) {
	return invoke[models.Booking](ctx, c.cc, "UpdateBookingStatus", in, opts)
}

func (c *BookingClient) CheckAvailability(ctx context.Context, in *CheckAvailabilityRequest, opts ...grpc.CallOption) (*models.Availability, error) {
	return invoke[models.Availability](ctx, c.cc, "CheckAvailability", in, opts)
}

func (c *BookingClient) GetBooking(ctx context.Context, in *BookingIDRequest, opts ...grpc.CallOption) (*models.Booking, error) {
	return invoke[models.Booking](ctx, c.cc, "GetBooking", in, opts)
}

func (c *BookingClient) DeleteBooking(ctx context.Context, in *BookingIDRequest, opts ...grpc.CallOption) (*DeleteBookingReply, error) {
	return invoke[DeleteBookingReply](ctx, c.cc, "DeleteBooking", in, opts)
}

// ConflictSlot is a booking that blocked a create or move.
type ConflictSlot struct {
	ID        int64
	StartTime time.Time
	EndTime   time.Time
}

// Conflicts returns the bookings attached to a scheduling conflict status,
// in the order the server reported them.
func Conflicts(err error) []ConflictSlot {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetReason() != conflictReason {
			continue
		}
		meta := info.GetMetadata()
		var slots []ConflictSlot
		for _, raw := range strings.Split(meta[conflictIDsKey], ",") {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			cs := ConflictSlot{ID: id}
			if start, end, found := strings.Cut(meta[conflictSlotKey+raw], "/"); found {
				cs.StartTime, _ = time.Parse(time.RFC3339Nano, start)
				cs.EndTime, _ = time.Parse(time.RFC3339Nano, end)
			}
			slots = append(slots, cs)
		}
		return slots
	}
	return nil
}
