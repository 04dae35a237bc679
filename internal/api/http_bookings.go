package api

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"studioflow/internal/booking"
	"studioflow/internal/export"
	"studioflow/internal/models"
	"studioflow/internal/service"
)

type createBookingRequest struct {
	RoomID    int64            `json:"room_id"`
	StartTime string           `json:"start_time"`
	EndTime   string           `json:"end_time"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Status    string           `json:"status,omitempty"`
	Notes     string           `json:"notes,omitempty"`
}

type updateIntervalRequest struct {
	StartTime string           `json:"start_time"`
	EndTime   string           `json:"end_time"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if req.RoomID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_body", "room_id is required")
		return
	}
	start, end, err := parseTimes(req.StartTime, req.EndTime)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := s.svc.Bookings.CreateBooking(r.Context(), actor, service.CreateBookingInput{
		RoomID: req.RoomID,
		Start:  start,
		End:    end,
		Price:  req.Price,
		Status: req.Status,
		Notes:  strings.TrimSpace(req.Notes),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter models.BookingFilter
	var err error
	if filter.RoomID, err = queryInt64(r, "room_id"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if filter.RequesterID, err = queryInt64(r, "requester_id"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	offset, err := queryInt64(r, "offset")
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_query", "invalid offset")
		return
	}
	filter.Limit = int(limit)
	filter.Offset = int(offset)
	filter.Status = strings.TrimSpace(q.Get("status"))
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		if filter.From, err = booking.ParseTime(raw); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if filter.To, err = booking.ParseTime(raw); err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	bookings, err := s.svc.Bookings.ListBookings(r.Context(), actor, filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	b, err := s.svc.Bookings.GetBooking(r.Context(), actor, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleUpdateInterval(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var req updateIntervalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	start, end, err := parseTimes(req.StartTime, req.EndTime)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := s.svc.Bookings.UpdateBookingInterval(r.Context(), actor, id, start, end, req.Price)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "status is required")
		return
	}

	b, err := s.svc.Bookings.UpdateBookingStatus(r.Context(), actor, id, req.Status)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := s.svc.Bookings.DeleteBooking(r.Context(), actor, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actor(w, r); !ok {
		return
	}

	q := r.URL.Query()
	roomID, err := queryInt64(r, "room_id")
	if err != nil || roomID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_query", "room_id is required")
		return
	}
	excludeID, err := queryInt64(r, "exclude_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	start, end, err := parseTimes(q.Get("start"), q.Get("end"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	av, err := s.svc.Bookings.CheckAvailability(r.Context(), roomID, start, end, excludeID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// handleExport streams the schedule as xlsx, or with archive=true stores it in
// the exports directory.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsStaff {
		s.respondError(w, r, booking.ErrForbidden)
		return
	}

	from, to, err := s.parseRange(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	bookings, err := s.svc.Bookings.BookingsInRange(r.Context(), from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rooms, err := s.svc.Rooms.ListRooms(r.Context(), models.RoomFilter{})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("archive") == "true" {
		if s.svc.ExportDir == "" {
			writeError(w, http.StatusServiceUnavailable, "archive_disabled", "export directory is not configured")
			return
		}
		path, err := export.SaveToDir(s.svc.ExportDir, bookings, rooms, from, to, s.svc.Location)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"file": filepath.Base(path), "bookings": len(bookings)})
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, bookings, rooms, from, to, s.svc.Location); err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(from, to)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleResync rewrites the schedule mirror with every booking in the range.
func (s *HTTPServer) handleResync(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsStaff {
		s.respondError(w, r, booking.ErrForbidden)
		return
	}
	if s.svc.Mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "mirror_disabled", "schedule mirror is not configured")
		return
	}

	from, to, err := s.parseRange(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	bookings, err := s.svc.Bookings.BookingsInRange(r.Context(), from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.svc.Mirror.ReplaceBookings(r.Context(), bookings); err != nil {
		s.log.Error().Err(err).Msg("schedule resync failed")
		writeError(w, http.StatusBadGateway, "mirror_failed", "schedule mirror rejected the update")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": len(bookings)})
}

// handleListRooms supports ?available=, ?min_capacity=, ?q= (name or
// description) and ?ordering= (name, capacity, hourly_price; "-" for desc).
func (s *HTTPServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.RoomFilter{
		Query:   q.Get("q"),
		OrderBy: q.Get("ordering"),
	}
	if raw := strings.TrimSpace(q.Get("available")); raw != "" {
		available, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", "available must be true or false")
			return
		}
		filter.Available = &available
	}
	minCapacity, err := queryInt64(r, "min_capacity")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	filter.MinCapacity = int(minCapacity)

	rooms, err := s.svc.Rooms.ListRooms(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *HTTPServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	room, err := s.svc.Rooms.GetRoom(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *HTTPServer) handleSetRoomAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var req struct {
		IsAvailable *bool `json:"is_available"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.IsAvailable == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "is_available is required")
		return
	}

	room, err := s.svc.Rooms.SetAvailability(r.Context(), actor, id, *req.IsAvailable)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func parseTimes(rawStart, rawEnd string) (time.Time, time.Time, error) {
	iv, err := booking.ParseInterval(strings.TrimSpace(rawStart), strings.TrimSpace(rawEnd))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return iv.Start, iv.End, nil
}

// parseRange reads from/to as dates (whole days in the server location, to
// inclusive) or as instants.
func (s *HTTPServer) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, _, err := s.parseDateOrTime(q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, toDay, err := s.parseDateOrTime(q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if toDay {
		to = to.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, booking.ErrInvalidInterval
	}
	return from, to, nil
}

func (s *HTTPServer) parseDateOrTime(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, booking.ErrInvalidTimeFormat
	}
	if d, err := time.ParseInLocation("2006-01-02", raw, s.svc.Location); err == nil {
		return d, true, nil
	}
	t, err := booking.ParseTime(raw)
	return t, false, err
}
