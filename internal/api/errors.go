package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"studioflow/internal/booking"
	"studioflow/internal/domain"
	"studioflow/internal/models"
)

// errorMapping ties a sentinel to its HTTP status, wire code and gRPC code.
type errorMapping struct {
	err    error
	status int
	code   string
	grpc   codes.Code
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{booking.ErrSchedulingConflict, http.StatusConflict, "scheduling_conflict", codes.AlreadyExists},
	{booking.ErrPastStartTime, http.StatusUnprocessableEntity, "past_start_time", codes.FailedPrecondition},
	{booking.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval", codes.InvalidArgument},
	{booking.ErrInvalidTimeFormat, http.StatusBadRequest, "invalid_time_format", codes.InvalidArgument},
	{booking.ErrInvalidStatus, http.StatusBadRequest, "invalid_status", codes.InvalidArgument},
	{booking.ErrInvalidPrice, http.StatusBadRequest, "invalid_price", codes.InvalidArgument},
	{booking.ErrDateTooFar, http.StatusBadRequest, "date_too_far", codes.InvalidArgument},
	{booking.ErrTerminalState, http.StatusConflict, "terminal_state", codes.FailedPrecondition},
	{booking.ErrInvalidTransition, http.StatusConflict, "invalid_transition", codes.FailedPrecondition},
	{booking.ErrResourceUnavailable, http.StatusConflict, "resource_unavailable", codes.FailedPrecondition},
	{booking.ErrResourceNotFound, http.StatusNotFound, "resource_not_found", codes.NotFound},
	{booking.ErrBookingNotFound, http.StatusNotFound, "booking_not_found", codes.NotFound},
	{booking.ErrForbidden, http.StatusForbidden, "forbidden", codes.PermissionDenied},
	{domain.ErrSubscriptionRequired, http.StatusPaymentRequired, "subscription_required", codes.FailedPrecondition},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", codes.ResourceExhausted},
	{domain.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found", codes.NotFound},
	{domain.ErrUserNotFound, http.StatusNotFound, "user_not_found", codes.NotFound},
	{domain.ErrDuplicate, http.StatusConflict, "duplicate", codes.AlreadyExists},
	{domain.ErrConcurrentModification, http.StatusConflict, "concurrent_modification", codes.Aborted},
	{domain.ErrCannotReactivate, http.StatusConflict, "cannot_reactivate", codes.FailedPrecondition},
	{domain.ErrUnknownPlan, http.StatusBadRequest, "unknown_plan", codes.InvalidArgument},
	{domain.ErrInvalidUser, http.StatusBadRequest, "invalid_user", codes.InvalidArgument},
	{domain.ErrInvalidWebhook, http.StatusBadRequest, "invalid_webhook", codes.InvalidArgument},
	{domain.ErrInvalidFilter, http.StatusBadRequest, "invalid_filter", codes.InvalidArgument},
	{domain.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature", codes.Unauthenticated},
	{domain.ErrStoreBusy, http.StatusServiceUnavailable, "store_busy", codes.Unavailable},
}

var internalMapping = errorMapping{status: http.StatusInternalServerError, code: "internal", grpc: codes.Internal}

func classifyError(err error) errorMapping {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m
		}
	}
	return internalMapping
}

// grpcError converts a service error into a status error.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	m := classifyError(err)
	if m.grpc == codes.Internal {
		return status.Error(codes.Internal, "internal error")
	}
	st := status.New(m.grpc, err.Error())
	if conflicts := booking.ConflictsOf(err); len(conflicts) > 0 {
		if detailed, derr := st.WithDetails(conflictInfo(conflicts)); derr == nil {
			st = detailed
		}
	}
	return st.Err()
}

const (
	conflictReason  = "SCHEDULING_CONFLICT"
	conflictIDsKey  = "conflicting_ids"
	conflictSlotKey = "booking_"
)

// conflictInfo lists the conflicting bookings as "booking_<id>" => "<start>/<end>".
func conflictInfo(conflicts []*models.Booking) *errdetails.ErrorInfo {
	ids := make([]string, 0, len(conflicts))
	meta := make(map[string]string, len(conflicts)+1)
	for _, b := range conflicts {
		id := strconv.FormatInt(b.ID, 10)
		ids = append(ids, id)
		meta[conflictSlotKey+id] = b.StartTime.UTC().Format(time.RFC3339Nano) + "/" + b.EndTime.UTC().Format(time.RFC3339Nano)
	}
	meta[conflictIDsKey] = strings.Join(ids, ",")
	return &errdetails.ErrorInfo{Reason: conflictReason, Domain: BookingServiceName, Metadata: meta}
}
