package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studioflow/internal/booking"
	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/metrics"
	"studioflow/internal/models"
	"studioflow/internal/service"
)

const maxBodyBytes = 1 << 20

// ScheduleSnapshot receives a full copy of the schedule on manual resync.
type ScheduleSnapshot interface {
	ReplaceBookings(ctx context.Context, bookings []*models.Booking) error
}

// Services groups what the transports call into. Mirror, Health and
// ExportDir are optional.
type Services struct {
	Bookings      *service.BookingService
	Rooms         *service.RoomService
	Users         *service.UserService
	Subscriptions *service.SubscriptionService
	Mirror        ScheduleSnapshot
	Health        map[string]func(context.Context) error
	Location      *time.Location
	ExportDir     string
}

// HTTPServer is the JSON API.
type HTTPServer struct {
	cfg     config.APIConfig
	webhook config.WebhookConfig
	svc     Services
	server  *http.Server
	auth    *HTTPAuth
	log     zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, webhook config.WebhookConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if svc.Location == nil {
		svc.Location = time.UTC
	}
	srv := &HTTPServer{cfg: cfg, webhook: webhook, svc: svc}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	} else {
		srv.log = zerolog.Nop()
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)

	mux.HandleFunc("GET /api/v1/rooms", srv.handleListRooms)
	mux.HandleFunc("GET /api/v1/rooms/{id}", srv.handleGetRoom)
	mux.HandleFunc("PATCH /api/v1/rooms/{id}/availability", srv.handleSetRoomAvailability)

	mux.HandleFunc("POST /api/v1/users", srv.handleRegisterUser)
	mux.HandleFunc("GET /api/v1/users/me", srv.handleMe)

	mux.HandleFunc("GET /api/v1/bookings", srv.handleListBookings)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/availability", srv.handleAvailability)
	mux.HandleFunc("GET /api/v1/bookings/export", srv.handleExport)
	mux.HandleFunc("POST /api/v1/bookings/sync", srv.handleResync)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("PATCH /api/v1/bookings/{id}", srv.handleUpdateInterval)
	mux.HandleFunc("PATCH /api/v1/bookings/{id}/status", srv.handleUpdateStatus)
	mux.HandleFunc("DELETE /api/v1/bookings/{id}", srv.handleDeleteBooking)

	mux.HandleFunc("GET /api/v1/subscriptions/plans", srv.handlePlans)
	mux.HandleFunc("GET /api/v1/subscriptions/current", srv.handleCurrentSubscription)
	mux.HandleFunc("POST /api/v1/subscriptions/trial", srv.handleProvisionTrial)
	mux.HandleFunc("POST /api/v1/subscriptions/cancel", srv.handleCancelSubscription)
	mux.HandleFunc("POST /api/v1/subscriptions/reactivate", srv.handleReactivateSubscription)

	mux.HandleFunc("POST /api/v1/webhooks/payments", srv.handleWebhook)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.svc.Health))
	ready := true
	for name, check := range s.svc.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": ready, "checks": checks})
}

// actor resolves the caller from the user id header. It writes the error
// response itself and returns false when the caller is unknown.
func (s *HTTPServer) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	header := s.cfg.Auth.HeaderUserID
	if header == "" {
		header = "x-user-id"
	}
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "missing "+header+" header")
		return models.Actor{}, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusUnauthorized, "invalid_user", "invalid "+header+" header")
		return models.Actor{}, false
	}

	actor, err := s.svc.Users.ResolveActor(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown_user", "unknown user")
		return models.Actor{}, false
	}
	if err != nil {
		s.respondError(w, r, err)
		return models.Actor{}, false
	}
	return actor, true
}

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Conflicts []*models.Booking `json:"conflicts,omitempty"`
}

func (s *HTTPServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	m := classifyError(err)
	if m.status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}

	body := errorResponse{Error: err.Error(), Code: m.code}
	if m.status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	if m.err == booking.ErrSchedulingConflict {
		body.Conflicts = booking.ConflictsOf(err)
	}
	writeJSON(w, m.status, body)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *keyedLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newKeyedLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				code := "unauthenticated"
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
					code = "permission_denied"
				}
				writeError(w, statusCode, code, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Payment provider callbacks carry their own signature and probes carry nothing.
func isPublicPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || strings.HasPrefix(path, "/api/v1/webhooks/")
}

var errPermissionDenied = errors.New("permission denied")

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKeyHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = apiKeyHeaderDefault
	}
	extraHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderExtra))
	if extraHeader == "" {
		extraHeader = apiExtraHeaderDefault
	}

	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	extra := strings.TrimSpace(r.Header.Get(extraHeader))
	if apiKey == "" || extra == "" {
		return fmt.Errorf("missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return fmt.Errorf("invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return fmt.Errorf("invalid extra header")
	}

	return checkClientPermission(client, requiredPermissionHTTP(r), errPermissionDenied)
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/bookings"):
		if r.Method == http.MethodGet {
			return permReadBookings
		}
		return permWriteBookings
	case strings.HasPrefix(path, "/api/v1/rooms"):
		if r.Method == http.MethodGet {
			return permReadRooms
		}
		return permWriteRooms
	case strings.HasPrefix(path, "/api/v1/subscriptions"), strings.HasPrefix(path, "/api/v1/users"):
		return permAccounts
	default:
		return ""
	}
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if !a.limiter.Allow(a.clientKey(r)) {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	apiKeyHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = apiKeyHeaderDefault
	}

	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDMetadataKey))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDMetadataKey, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", endpoint).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message, Code: code})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
