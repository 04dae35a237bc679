package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studioflow/internal/config"
	"studioflow/internal/database"
	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/models"
	"studioflow/internal/repository"
	"studioflow/internal/service"
)

const testWebhookSecret = "whsec-test"

// Far enough ahead that the real clock never reaches it.
func slot(day, hour int) string {
	return time.Date(2030, 3, day, hour, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

type fakeMirror struct {
	mu       sync.Mutex
	replaced []*models.Booking
	err      error
}

func (m *fakeMirror) ReplaceBookings(_ context.Context, bookings []*models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.replaced = bookings
	return nil
}

type apiFixture struct {
	db      *database.DB
	svc     Services
	ts      *httptest.Server
	mirror  *fakeMirror
	client  *models.User
	other   *models.User
	staff   *models.User
	webhook config.WebhookConfig
}

type fixtureOption func(*fixtureSettings)

type fixtureSettings struct {
	api       config.APIConfig
	booking   config.BookingConfig
	gate      bool
	exportDir string
}

func withAPIConfig(cfg config.APIConfig) fixtureOption {
	return func(s *fixtureSettings) { s.api = cfg }
}

func withSubscriptionGate() fixtureOption {
	return func(s *fixtureSettings) { s.gate = true }
}

func withExportDir(dir string) fixtureOption {
	return func(s *fixtureSettings) { s.exportDir = dir }
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncRooms(context.Background(), []models.Room{
		{ID: 1, Name: "Sala A", Capacity: 4, HourlyPrice: decimal.RequireFromString("100"), IsAvailable: true},
		{ID: 2, Name: "Sala B", Capacity: 8, HourlyPrice: decimal.RequireFromString("80.50"), IsAvailable: true},
	}))
	return db
}

func testPlans() config.SubscriptionConfig {
	return config.SubscriptionConfig{
		TrialDays:   15,
		PeriodDays:  30,
		DefaultPlan: "studioflow_basic",
		Currency:    "BRL",
		Plans: []config.PlanConfig{
			{ID: "studioflow_basic", Name: "StudioFlow Básico", Amount: "19.99"},
			{ID: "studioflow_pro", Name: "StudioFlow Pro", Amount: "39.99"},
		},
	}
}

// buildServices wires the services the transports need around db.
func buildServices(t *testing.T, db *database.DB, settings fixtureSettings, webhook config.WebhookConfig) Services {
	t.Helper()
	bus := events.NewEventBus()
	subs := service.NewSubscriptionService(db, repository.NewMemoryStore(), bus, testPlans(), webhook, nil)
	users := service.NewUserService(db, subs, nil)
	bookings := service.NewBookingService(db, db, bus, nil, settings.booking, nil)
	if settings.gate {
		bookings.WithSubscriptionGate(subs)
	}
	return Services{
		Bookings:      bookings,
		Rooms:         service.NewRoomService(db, nil),
		Users:         users,
		Subscriptions: subs,
		Health: map[string]func(context.Context) error{
			"database": db.PingContext,
		},
		Location: time.UTC,
	}
}

func registerUser(t *testing.T, users *service.UserService, email, userType string, staff bool) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: strings.Split(email, "@")[0], UserType: userType, IsStaff: staff}
	_, err := users.RegisterUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

func newAPIFixture(t *testing.T, opts ...fixtureOption) *apiFixture {
	t.Helper()
	settings := fixtureSettings{
		api: config.APIConfig{HTTP: config.APIHTTPConfig{Enabled: true}},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	db := newTestDB(t)
	webhook := config.WebhookConfig{Secret: testWebhookSecret}
	svc := buildServices(t, db, settings, webhook)
	mirror := &fakeMirror{}
	svc.Mirror = mirror
	svc.ExportDir = settings.exportDir

	f := &apiFixture{db: db, svc: svc, mirror: mirror, webhook: webhook}
	f.client = registerUser(t, svc.Users, "ana@example.com", models.UserTypeClient, false)
	f.other = registerUser(t, svc.Users, "bruno@example.com", models.UserTypeProvider, false)
	f.staff = registerUser(t, svc.Users, "admin@example.com", models.UserTypeAdmin, true)

	logger := zerolog.New(io.Discard)
	server := NewHTTPServer(settings.api, webhook, svc, &logger)
	f.ts = httptest.NewServer(server.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, user *models.User, body any, headers ...string) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("x-user-id", fmt.Sprint(user.ID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *apiFixture) createBooking(t *testing.T, user *models.User, roomID int64, start, end string) *models.Booking {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/bookings", user, map[string]any{
		"room_id": roomID, "start_time": start, "end_time": end,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	b := decodeBody[models.Booking](t, resp)
	return &b
}

func TestBookingFlow(t *testing.T) {
	f := newAPIFixture(t)

	a := f.createBooking(t, f.client, 1, slot(5, 10), slot(5, 12))
	assert.Equal(t, models.StatusPending, a.Status)
	assert.Equal(t, "200.00", a.TotalPrice.StringFixed(2))
	assert.Equal(t, f.client.ID, a.RequesterID)

	t.Run("Conflict", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/bookings", f.other, map[string]any{
			"room_id": 1, "start_time": slot(5, 11), "end_time": slot(5, 13),
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decodeBody[errorResponse](t, resp)
		assert.Equal(t, "scheduling_conflict", body.Code)
		require.Len(t, body.Conflicts, 1)
		assert.Equal(t, a.ID, body.Conflicts[0].ID)
	})

	t.Run("AdjacentSlotIsFree", func(t *testing.T) {
		b := f.createBooking(t, f.other, 1, slot(5, 12), slot(5, 13))
		assert.Equal(t, "100.00", b.TotalPrice.StringFixed(2))
	})

	t.Run("OtherRoomSameTime", func(t *testing.T) {
		b := f.createBooking(t, f.other, 2, slot(5, 10), slot(5, 11))
		assert.Equal(t, "80.50", b.TotalPrice.StringFixed(2))
	})

	t.Run("Availability", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/bookings/availability?room_id=1&start="+slot(5, 9)+"&end="+slot(5, 11), f.client, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		av := decodeBody[models.Availability](t, resp)
		assert.False(t, av.IsAvailable)
		require.Len(t, av.Conflicts, 1)

		resp = f.do(t, http.MethodGet, "/api/v1/bookings/availability?room_id=1&start="+slot(5, 9)+"&end="+slot(5, 11)+fmt.Sprintf("&exclude_id=%d", a.ID), f.client, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, decodeBody[models.Availability](t, resp).IsAvailable)
	})

	t.Run("ConfirmThenComplete", func(t *testing.T) {
		path := fmt.Sprintf("/api/v1/bookings/%d/status", a.ID)
		resp := f.do(t, http.MethodPatch, path, f.staff, map[string]string{"status": "confirmed"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, models.StatusConfirmed, decodeBody[models.Booking](t, resp).Status)

		resp = f.do(t, http.MethodPatch, path, f.client, map[string]string{"status": "pending"})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "invalid_transition", decodeBody[errorResponse](t, resp).Code)

		resp = f.do(t, http.MethodPatch, path, f.client, map[string]string{"status": "completed"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = f.do(t, http.MethodPatch, path, f.client, map[string]string{"status": "canceled"})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "terminal_state", decodeBody[errorResponse](t, resp).Code)
	})

	t.Run("CompletedFreesTheSlot", func(t *testing.T) {
		f.createBooking(t, f.other, 1, slot(5, 10), slot(5, 11))
	})

	t.Run("ListIsScopedToRequester", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/bookings", f.client, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decodeBody[struct {
			Bookings []*models.Booking `json:"bookings"`
		}](t, resp)
		require.Len(t, list.Bookings, 1)
		assert.Equal(t, a.ID, list.Bookings[0].ID)

		resp = f.do(t, http.MethodGet, "/api/v1/bookings?room_id=1", f.staff, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list = decodeBody[struct {
			Bookings []*models.Booking `json:"bookings"`
		}](t, resp)
		assert.Len(t, list.Bookings, 3)
	})

	t.Run("ForeignBookingIsForbidden", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", a.ID), f.other, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestCreateBookingValidation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"EndBeforeStart", map[string]any{"room_id": 1, "start_time": slot(5, 12), "end_time": slot(5, 10)}, http.StatusBadRequest, "invalid_interval"},
		{"EmptyInterval", map[string]any{"room_id": 1, "start_time": slot(5, 12), "end_time": slot(5, 12)}, http.StatusBadRequest, "invalid_interval"},
		{"BadTime", map[string]any{"room_id": 1, "start_time": "tomorrow", "end_time": slot(5, 12)}, http.StatusBadRequest, "invalid_time_format"},
		{"PastStart", map[string]any{"room_id": 1, "start_time": "2020-01-01T10:00:00Z", "end_time": "2020-01-01T11:00:00Z"}, http.StatusUnprocessableEntity, "past_start_time"},
		{"UnknownRoom", map[string]any{"room_id": 99, "start_time": slot(5, 10), "end_time": slot(5, 11)}, http.StatusNotFound, "resource_not_found"},
		{"MissingRoom", map[string]any{"start_time": slot(5, 10), "end_time": slot(5, 11)}, http.StatusBadRequest, "invalid_body"},
		{"TerminalStatus", map[string]any{"room_id": 1, "start_time": slot(5, 10), "end_time": slot(5, 11), "status": "completed"}, http.StatusBadRequest, "invalid_status"},
		{"UnknownField", map[string]any{"room_id": 1, "start_time": slot(5, 10), "end_time": slot(5, 11), "color": "red"}, http.StatusBadRequest, "invalid_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/v1/bookings", f.client, tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeBody[errorResponse](t, resp).Code)
		})
	}
}

func TestUpdateBookingInterval(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createBooking(t, f.client, 1, slot(6, 10), slot(6, 11))
	b := f.createBooking(t, f.other, 1, slot(6, 12), slot(6, 13))

	path := fmt.Sprintf("/api/v1/bookings/%d", a.ID)
	resp := f.do(t, http.MethodPatch, path, f.client, map[string]any{"start_time": slot(6, 11), "end_time": slot(6, 13)})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeBody[errorResponse](t, resp)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, b.ID, body.Conflicts[0].ID)

	resp = f.do(t, http.MethodPatch, path, f.client, map[string]any{"start_time": slot(6, 9), "end_time": slot(6, 12)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[models.Booking](t, resp)
	assert.Equal(t, "300.00", updated.TotalPrice.StringFixed(2))

	resp = f.do(t, http.MethodPatch, path, f.other, map[string]any{"start_time": slot(6, 9), "end_time": slot(6, 10)})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, path+"/status", f.client, map[string]any{"status": "canceled"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, path, f.client, map[string]any{"start_time": slot(6, 15), "end_time": slot(6, 16)})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "terminal_state", decodeBody[errorResponse](t, resp).Code)

	resp = f.do(t, http.MethodGet, path, f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := decodeBody[models.Booking](t, resp)
	assert.Equal(t, "300.00", stored.TotalPrice.StringFixed(2))
	assert.Equal(t, models.StatusCanceled, stored.Status)
}

func TestListRoomsFilters(t *testing.T) {
	f := newAPIFixture(t)

	listIDs := func(t *testing.T, query string) []int64 {
		t.Helper()
		resp := f.do(t, http.MethodGet, "/api/v1/rooms"+query, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[struct {
			Rooms []*models.Room `json:"rooms"`
		}](t, resp)
		ids := make([]int64, 0, len(body.Rooms))
		for _, r := range body.Rooms {
			ids = append(ids, r.ID)
		}
		return ids
	}

	assert.Equal(t, []int64{2}, listIDs(t, "?min_capacity=5"))
	assert.Equal(t, []int64{1}, listIDs(t, "?q=sala%20a"))
	assert.Equal(t, []int64{2, 1}, listIDs(t, "?ordering=hourly_price"))
	assert.Equal(t, []int64{1, 2}, listIDs(t, "?available=true&ordering=-hourly_price"))

	resp := f.do(t, http.MethodPatch, "/api/v1/rooms/2/availability", f.staff, map[string]bool{"is_available": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int64{2}, listIDs(t, "?available=false"))

	for _, bad := range []string{"?available=maybe", "?min_capacity=x", "?ordering=color"} {
		resp := f.do(t, http.MethodGet, "/api/v1/rooms"+bad, nil, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
		assert.Equal(t, "invalid_filter", decodeBody[errorResponse](t, resp).Code)
	}
}

func TestCreateBookingIgnoresClientPrice(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/bookings", f.client, map[string]any{
		"room_id": 1, "start_time": slot(5, 10), "end_time": slot(5, 12), "price": "10.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "200.00", decodeBody[models.Booking](t, resp).TotalPrice.StringFixed(2))
}

func TestDeleteBooking(t *testing.T) {
	f := newAPIFixture(t)
	a := f.createBooking(t, f.client, 1, slot(7, 10), slot(7, 11))
	path := fmt.Sprintf("/api/v1/bookings/%d", a.ID)

	resp := f.do(t, http.MethodDelete, path, f.other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, path, f.client, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, path, f.client, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUserIdentity(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"Missing", "", "missing_user"},
		{"Malformed", "abc", "invalid_user"},
		{"Negative", "-4", "invalid_user"},
		{"Unknown", "9999", "unknown_user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.header != "" {
				headers = []string{"x-user-id", tt.header}
			}
			resp := f.do(t, http.MethodGet, "/api/v1/bookings", nil, nil, headers...)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tt.code, decodeBody[errorResponse](t, resp).Code)
		})
	}

	resp := f.do(t, http.MethodGet, "/api/v1/users/me", f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ana@example.com", decodeBody[models.User](t, resp).Email)
}

func TestStaffOnlyEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.createBooking(t, f.client, 1, slot(8, 10), slot(8, 11))

	t.Run("RoomAvailability", func(t *testing.T) {
		resp := f.do(t, http.MethodPatch, "/api/v1/rooms/2/availability", f.client, map[string]bool{"is_available": false})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = f.do(t, http.MethodPatch, "/api/v1/rooms/2/availability", f.staff, map[string]bool{"is_available": false})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decodeBody[models.Room](t, resp).IsAvailable)

		resp = f.do(t, http.MethodGet, "/api/v1/rooms/2", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decodeBody[models.Room](t, resp).IsAvailable)
	})

	t.Run("Export", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/bookings/export?from=2030-03-01&to=2030-03-31", f.client, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = f.do(t, http.MethodGet, "/api/v1/bookings/export?from=2030-03-01&to=2030-03-31", f.staff, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(raw, []byte("PK")), "xlsx is a zip archive")

		resp = f.do(t, http.MethodGet, "/api/v1/bookings/export?from=2030-03-31&to=2030-03-01", f.staff, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Archive", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/bookings/export?from=2030-03-01&to=2030-03-31&archive=true", f.staff, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("Resync", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/bookings/sync?from=2030-03-01&to=2030-03-31", f.staff, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[map[string]int](t, resp)
		assert.Equal(t, 1, body["synced"])
		assert.Len(t, f.mirror.replaced, 1)

		f.mirror.err = errors.New("sheets down")
		resp = f.do(t, http.MethodPost, "/api/v1/bookings/sync?from=2030-03-01&to=2030-03-31", f.staff, nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestExportArchive(t *testing.T) {
	dir := t.TempDir()
	f := newAPIFixture(t, withExportDir(dir))
	f.createBooking(t, f.client, 1, slot(8, 10), slot(8, 11))

	resp := f.do(t, http.MethodGet, "/api/v1/bookings/export?from=2030-03-01&to=2030-03-31&archive=true", f.staff, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "reservas_2030-03-01_a_2030-04-01.xlsx", body["file"])
	assert.EqualValues(t, 1, body["bookings"])
	assert.FileExists(t, filepath.Join(dir, "reservas_2030-03-01_a_2030-04-01.xlsx"))
}

func TestSubscriptionGate(t *testing.T) {
	f := newAPIFixture(t, withSubscriptionGate())

	f.createBooking(t, f.client, 1, slot(9, 10), slot(9, 11))

	resp := f.do(t, http.MethodPost, "/api/v1/subscriptions/cancel", f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[map[string]any](t, resp)["cancel_at_period_end"].(bool))

	// A pending cancel keeps access until the trial runs out.
	f.createBooking(t, f.client, 1, slot(9, 11), slot(9, 12))

	ctx := context.Background()
	sub, err := f.db.GetSubscriptionByUser(ctx, f.other.ID)
	require.NoError(t, err)
	sub.Status = models.SubscriptionCanceled
	require.NoError(t, f.db.UpdateSubscription(ctx, sub))

	resp = f.do(t, http.MethodPost, "/api/v1/bookings", f.other, map[string]any{
		"room_id": 1, "start_time": slot(9, 14), "end_time": slot(9, 15),
	})
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "subscription_required", decodeBody[errorResponse](t, resp).Code)

	// Staff bypass the gate.
	f.createBooking(t, f.staff, 1, slot(9, 14), slot(9, 15))
}

func TestSubscriptionEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/subscriptions/plans", f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), "studioflow_pro")

	resp = f.do(t, http.MethodGet, "/api/v1/subscriptions/current", f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := decodeBody[map[string]any](t, resp)
	assert.Equal(t, models.SubscriptionTrial, current["status"])
	assert.Equal(t, true, current["is_trial_active"])
	assert.EqualValues(t, 14, current["days_until_trial_end"])

	resp = f.do(t, http.MethodPost, "/api/v1/subscriptions/reactivate", f.client, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "cannot_reactivate", decodeBody[errorResponse](t, resp).Code)

	resp = f.do(t, http.MethodPost, "/api/v1/subscriptions/cancel", f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/v1/subscriptions/reactivate", f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody[map[string]any](t, resp)["cancel_at_period_end"])

	resp = f.do(t, http.MethodGet, "/api/v1/subscriptions/current", f.staff, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/subscriptions/trial", f.client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterUserEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/users", nil, map[string]any{"email": "Carla@Example.com", "name": "Carla"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[struct {
		User         models.User         `json:"user"`
		Subscription models.Subscription `json:"subscription"`
	}](t, resp)
	assert.Equal(t, "carla@example.com", body.User.Email)
	assert.Equal(t, models.UserTypeClient, body.User.UserType)
	assert.Equal(t, models.SubscriptionTrial, body.Subscription.Status)
	assert.Equal(t, "19.99", body.Subscription.Amount.StringFixed(2))

	resp = f.do(t, http.MethodPost, "/api/v1/users", nil, map[string]any{"email": "carla@example.com", "name": "Again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/users", nil, map[string]any{"email": "nope", "name": "Bad"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (f *apiFixture) postWebhook(t *testing.T, payload any, sign bool) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/webhooks/payments", bytes.NewReader(raw))
	require.NoError(t, err)
	if sign {
		req.Header.Set("x-signature", "sha256="+f.svc.Subscriptions.Sign(raw))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPaymentWebhook(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	payment := map[string]any{"id": 1001, "type": "payment", "status": "approved", "user_id": f.client.ID, "plan": "studioflow_pro"}

	t.Run("Unsigned", func(t *testing.T) {
		resp := f.postWebhook(t, payment, false)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_signature", decodeBody[errorResponse](t, resp).Code)
	})

	t.Run("Approved", func(t *testing.T) {
		resp := f.postWebhook(t, payment, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[map[string]any](t, resp)
		assert.Equal(t, true, body["received"])
		assert.NotEmpty(t, body["receipt_id"])

		sub, err := f.db.GetSubscriptionByUser(ctx, f.client.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionActive, sub.Status)
		assert.Equal(t, "studioflow_pro", sub.Plan)
		assert.Equal(t, "39.99", sub.Amount.StringFixed(2))
		require.NotNil(t, sub.CurrentPeriodEnd)
	})

	t.Run("DuplicateIsAcknowledged", func(t *testing.T) {
		sub, err := f.db.GetSubscriptionByUser(ctx, f.client.ID)
		require.NoError(t, err)
		sub.Status = models.SubscriptionPastDue
		require.NoError(t, f.db.UpdateSubscription(ctx, sub))

		resp := f.postWebhook(t, payment, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		sub, err = f.db.GetSubscriptionByUser(ctx, f.client.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionPastDue, sub.Status, "replayed event must not apply twice")
	})

	t.Run("SubscriptionCanceled", func(t *testing.T) {
		resp := f.postWebhook(t, map[string]any{"id": "ev-2", "topic": "subscription", "status": "cancelled", "user_id": f.other.ID}, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		sub, err := f.db.GetSubscriptionByUser(ctx, f.other.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionCanceled, sub.Status)
	})

	t.Run("UnknownSubscription", func(t *testing.T) {
		resp := f.postWebhook(t, map[string]any{"id": "ev-3", "topic": "subscription", "status": "authorized", "subscription_id": "mp-unknown"}, true)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("MissingIdentifiers", func(t *testing.T) {
		resp := f.postWebhook(t, map[string]any{"id": "ev-4", "topic": "payment", "status": "approved"}, true)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_webhook", decodeBody[errorResponse](t, resp).Code)
	})

	t.Run("IgnoredTopic", func(t *testing.T) {
		resp := f.postWebhook(t, map[string]any{"id": "ev-5", "topic": "merchant_order"}, true)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDMetadataKey))

	resp = f.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody[map[string]any](t, resp)["ready"])
}

func TestReadyz_DBFail(t *testing.T) {
	db := newTestDB(t)
	svc := buildServices(t, db, fixtureSettings{}, config.WebhookConfig{})
	db.Close()

	server := NewHTTPServer(config.APIConfig{}, config.WebhookConfig{}, svc, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	cfg := config.APIConfig{
		HTTP: config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "reader", Extra: "reader-extra", Permissions: []string{permReadBookings, permReadRooms}},
				{Key: "frontend", Extra: "frontend-extra"},
			},
		},
	}
	f := newAPIFixture(t, withAPIConfig(cfg))

	t.Run("MissingHeaders", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/rooms", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/rooms", nil, nil, "x-api-key", "wrong", "x-api-extra", "reader-extra")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("InvalidExtra", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/rooms", nil, nil, "x-api-key", "reader", "x-api-extra", "wrong")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ValidKey", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/rooms", nil, nil, "x-api-key", "reader", "x-api-extra", "reader-extra")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		rooms := decodeBody[struct {
			Rooms []*models.Room `json:"rooms"`
		}](t, resp)
		assert.Len(t, rooms.Rooms, 2)
	})

	t.Run("WrongPermission", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/bookings", f.client, map[string]any{
			"room_id": 1, "start_time": slot(10, 10), "end_time": slot(10, 11),
		}, "x-api-key", "reader", "x-api-extra", "reader-extra")
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "permission_denied", decodeBody[errorResponse](t, resp).Code)
	})

	t.Run("EmptyPermissionsAllowEverything", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/bookings", f.client, map[string]any{
			"room_id": 1, "start_time": slot(10, 10), "end_time": slot(10, 11),
		}, "x-api-key", "frontend", "x-api-extra", "frontend-extra")
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("ProbesAndWebhooksArePublic", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/healthz", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = f.postWebhook(t, map[string]any{"id": "ev-public", "topic": "merchant_order"}, true)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRateLimit(t *testing.T) {
	f := newAPIFixture(t, withAPIConfig(config.APIConfig{
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 1},
	}))

	resp := f.do(t, http.MethodGet, "/api/v1/rooms", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/rooms", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decodeBody[errorResponse](t, resp).Code)
}

func TestHTTPServer_ShutdownUnstarted(t *testing.T) {
	db := newTestDB(t)
	svc := buildServices(t, db, fixtureSettings{}, config.WebhookConfig{})
	server := NewHTTPServer(config.APIConfig{}, config.WebhookConfig{}, svc, nil)

	assert.NoError(t, server.Shutdown(context.Background()))
}

func TestClassifyError(t *testing.T) {
	wrapped := fmt.Errorf("create: %w", domain.ErrStoreBusy)
	assert.Equal(t, http.StatusServiceUnavailable, classifyError(wrapped).status)
	assert.Equal(t, http.StatusInternalServerError, classifyError(errors.New("boom")).status)
	assert.Equal(t, "internal", classifyError(errors.New("boom")).code)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}
