package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"studioflow/internal/domain"
	"studioflow/internal/models"
)

type registerUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	UserType string `json:"user_type,omitempty"`
	IsStaff  bool   `json:"is_staff,omitempty"`
}

type subscriptionView struct {
	*models.Subscription
	IsActive          bool `json:"is_active"`
	IsTrialActive     bool `json:"is_trial_active"`
	DaysUntilTrialEnd int  `json:"days_until_trial_end"`
}

func newSubscriptionView(sub *models.Subscription, now time.Time) *subscriptionView {
	if sub == nil {
		return nil
	}
	return &subscriptionView{
		Subscription:      sub,
		IsActive:          sub.IsActive(now),
		IsTrialActive:     sub.IsTrialActive(now),
		DaysUntilTrialEnd: sub.DaysUntilTrialEnd(now),
	}
}

func (s *HTTPServer) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	user := &models.User{
		Email:    req.Email,
		Name:     req.Name,
		Phone:    strings.TrimSpace(req.Phone),
		UserType: req.UserType,
		IsStaff:  req.IsStaff,
	}
	sub, err := s.svc.Users.RegisterUser(r.Context(), user)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user":         user,
		"subscription": newSubscriptionView(sub, time.Now()),
	})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	user, err := s.svc.Users.GetUser(r.Context(), actor.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handlePlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": s.svc.Subscriptions.Plans()})
}

func (s *HTTPServer) handleCurrentSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	sub, err := s.svc.Subscriptions.Current(r.Context(), actor.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub, time.Now()))
}

func (s *HTTPServer) handleProvisionTrial(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	sub, err := s.svc.Users.ProvisionTrial(r.Context(), actor.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub, time.Now()))
}

func (s *HTTPServer) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	sub, err := s.svc.Subscriptions.Cancel(r.Context(), actor.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub, time.Now()))
}

func (s *HTTPServer) handleReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	sub, err := s.svc.Subscriptions.Reactivate(r.Context(), actor.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub, time.Now()))
}

// webhookPayload accepts both the normalized shape and the provider's
// topic/type + resource notification.
type webhookPayload struct {
	ID             flexString `json:"id"`
	Topic          string     `json:"topic"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	SubscriptionID flexString `json:"subscription_id"`
	Resource       flexString `json:"resource"`
	UserID         int64      `json:"user_id"`
	Plan           string     `json:"plan"`
	PaymentID      flexString `json:"payment_id"`
}

func (p webhookPayload) event() models.WebhookEvent {
	ev := models.WebhookEvent{
		ID:            string(p.ID),
		Topic:         p.Topic,
		Status:        p.Status,
		ProviderSubID: string(p.SubscriptionID),
		UserID:        p.UserID,
		Plan:          p.Plan,
		PaymentID:     string(p.PaymentID),
	}
	if ev.Topic == "" {
		ev.Topic = p.Type
	}
	switch strings.ToLower(ev.Topic) {
	case "subscription":
		if ev.ProviderSubID == "" {
			ev.ProviderSubID = string(p.Resource)
		}
	case "payment":
		if ev.PaymentID == "" {
			ev.PaymentID = string(p.Resource)
		}
	}
	return ev
}

// flexString decodes a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "unreadable body")
		return
	}

	header := s.webhook.SignatureHeader
	if header == "" {
		header = "x-signature"
	}
	if err := s.svc.Subscriptions.VerifySignature(body, r.Header.Get(header)); err != nil {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature rejected")
		s.respondError(w, r, err)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.respondError(w, r, domain.ErrInvalidWebhook)
		return
	}

	receiptID := uuid.NewString()
	ev := payload.event()
	if err := s.svc.Subscriptions.HandleWebhook(r.Context(), ev); err != nil {
		s.log.Warn().Err(err).Str("receipt_id", receiptID).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("webhook not applied")
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "receipt_id": receiptID})
}
