package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/metrics"
	"studioflow/internal/models"
)

const (
	TopicPayment      = "payment"
	TopicSubscription = "subscription"
)

type SubscriptionService struct {
	subs     domain.SubscriptionRepository
	dedup    domain.IdempotencyStore
	eventBus domain.EventPublisher
	cfg      config.SubscriptionConfig
	webhook  config.WebhookConfig
	now      func() time.Time
	logger   *zerolog.Logger
}

var (
	_ domain.SubscriptionChecker = (*SubscriptionService)(nil)
	_ domain.TrialProvisioner    = (*SubscriptionService)(nil)
)

func NewSubscriptionService(
	subs domain.SubscriptionRepository,
	dedup domain.IdempotencyStore,
	eventBus domain.EventPublisher,
	cfg config.SubscriptionConfig,
	webhook config.WebhookConfig,
	logger *zerolog.Logger,
) *SubscriptionService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = models.DefaultTrialDays
	}
	if cfg.PeriodDays <= 0 {
		cfg.PeriodDays = models.DefaultBillingPeriodDays
	}
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = models.DefaultPlan
	}
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}
	if webhook.DedupTTL <= 0 {
		webhook.DedupTTL = 24 * time.Hour
	}
	return &SubscriptionService{
		subs:     subs,
		dedup:    dedup,
		eventBus: eventBus,
		cfg:      cfg,
		webhook:  webhook,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the time source.
func (s *SubscriptionService) WithClock(now func() time.Time) *SubscriptionService {
	s.now = now
	return s
}

// Plans lists the configured subscription plans.
func (s *SubscriptionService) Plans() []config.PlanConfig {
	return s.cfg.Plans
}

func (s *SubscriptionService) planAmount(planID string) (decimal.Decimal, error) {
	for _, p := range s.cfg.Plans {
		if p.ID == planID {
			return decimal.NewFromString(p.Amount)
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnknownPlan, planID)
}

// ProvisionTrialSubscription gives userID a trial on the default plan. Calling
// it again returns the subscription the user already has.
func (s *SubscriptionService) ProvisionTrialSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	existing, err := s.subs.GetSubscriptionByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil, err
	}

	amount, err := s.planAmount(s.cfg.DefaultPlan)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	trialEnd := now.AddDate(0, 0, s.cfg.TrialDays)
	sub := &models.Subscription{
		UserID:             userID,
		Plan:               s.cfg.DefaultPlan,
		Status:             models.SubscriptionTrial,
		TrialStart:         &now,
		TrialEnd:           &trialEnd,
		CurrentPeriodStart: &now,
		Amount:             amount,
		Currency:           s.cfg.Currency,
	}
	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return s.subs.GetSubscriptionByUser(ctx, userID)
		}
		return nil, err
	}

	s.logger.Info().Int64("user_id", userID).Str("plan", sub.Plan).Time("trial_end", trialEnd).Msg("trial subscription provisioned")
	s.publish(events.EventSubscriptionProvisioned, sub, "registration")
	return sub, nil
}

func (s *SubscriptionService) Current(ctx context.Context, userID int64) (*models.Subscription, error) {
	return s.subs.GetSubscriptionByUser(ctx, userID)
}

// IsActive reports whether userID may use paid features right now.
func (s *SubscriptionService) IsActive(ctx context.Context, userID int64) (bool, error) {
	sub, err := s.subs.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return grantsAccess(sub, s.now()), nil
}

func grantsAccess(sub *models.Subscription, now time.Time) bool {
	if !sub.IsActive(now) {
		return false
	}
	if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil && !now.Before(*sub.CurrentPeriodEnd) {
		return false
	}
	return true
}

// Cancel schedules the subscription to end with the current period.
func (s *SubscriptionService) Cancel(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := s.subs.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionCanceled || sub.CancelAtPeriodEnd {
		return sub, nil
	}

	now := s.now().UTC()
	sub.CancelAtPeriodEnd = true
	sub.CanceledAt = &now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("user_id", userID).Msg("subscription cancel requested")
	s.publish(events.EventSubscriptionCanceled, sub, "api")
	return sub, nil
}

// Reactivate undoes a cancellation. A subscription whose paid period and
// trial are both over comes back as UNPAID until the next payment.
func (s *SubscriptionService) Reactivate(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := s.subs.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionCanceled && !sub.CancelAtPeriodEnd {
		return nil, domain.ErrCannotReactivate
	}

	now := s.now().UTC()
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	if sub.Status == models.SubscriptionCanceled {
		switch {
		case sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd):
			sub.Status = models.SubscriptionActive
		case sub.TrialEnd != nil && now.Before(*sub.TrialEnd):
			sub.Status = models.SubscriptionTrial
		default:
			sub.Status = models.SubscriptionUnpaid
		}
	}
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("user_id", userID).Str("status", sub.Status).Msg("subscription reactivated")
	s.publish(events.EventSubscriptionReactivated, sub, "api")
	return sub, nil
}

// VerifySignature checks a hex HMAC-SHA256 of body. Without a configured
// secret every payload is accepted.
func (s *SubscriptionService) VerifySignature(body []byte, signature string) error {
	if s.webhook.Secret == "" {
		return nil
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.webhook.Secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature VerifySignature expects for body.
func (s *SubscriptionService) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.webhook.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleWebhook applies a payment provider notification. Duplicate deliveries
// and topics other than payment and subscription are acknowledged without effect.
func (s *SubscriptionService) HandleWebhook(ctx context.Context, ev models.WebhookEvent) error {
	topic := strings.ToLower(strings.TrimSpace(ev.Topic))
	if topic != TopicPayment && topic != TopicSubscription {
		metrics.IncWebhook(topic, "ignored")
		s.logger.Debug().Str("topic", ev.Topic).Msg("webhook topic ignored")
		return nil
	}
	if ev.ProviderSubID == "" && ev.UserID == 0 {
		metrics.IncWebhook(topic, "invalid")
		return fmt.Errorf("%w: subscription_id or user_id is required", domain.ErrInvalidWebhook)
	}

	key := ""
	if ev.ID != "" && s.dedup != nil {
		key = "webhook:" + topic + ":" + ev.ID
		fresh, err := s.dedup.MarkProcessed(ctx, key, s.webhook.DedupTTL)
		if err != nil {
			return fmt.Errorf("dedup webhook: %w", err)
		}
		if !fresh {
			metrics.IncWebhook(topic, "duplicate")
			s.logger.Info().Str("event_id", ev.ID).Msg("duplicate webhook ignored")
			return nil
		}
	}

	err := s.applyWebhook(ctx, topic, ev)
	if err != nil {
		metrics.IncWebhook(topic, "error")
		if key != "" {
			if ferr := s.dedup.Forget(ctx, key); ferr != nil {
				s.logger.Warn().Err(ferr).Str("event_id", ev.ID).Msg("failed to release webhook dedup key")
			}
		}
		return err
	}
	metrics.IncWebhook(topic, "processed")
	return nil
}

func (s *SubscriptionService) applyWebhook(ctx context.Context, topic string, ev models.WebhookEvent) error {
	sub, err := s.findForWebhook(ctx, ev)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	status := strings.ToLower(strings.TrimSpace(ev.Status))
	var eventType string

	switch topic {
	case TopicPayment:
		switch status {
		case "approved", "authorized":
			if err := s.applyPlan(sub, ev.Plan); err != nil {
				return err
			}
			s.startPeriod(sub, now)
			sub.LastPaymentDate = &now
			eventType = events.EventSubscriptionActivated
		case "rejected", "cancelled", "canceled", "refunded", "charged_back":
			sub.Status = models.SubscriptionPastDue
			eventType = events.EventSubscriptionPastDue
		default:
			s.logger.Info().Str("event_id", ev.ID).Str("status", ev.Status).Msg("payment status acknowledged")
			return nil
		}
	case TopicSubscription:
		switch status {
		case "authorized", "active":
			if err := s.applyPlan(sub, ev.Plan); err != nil {
				return err
			}
			if sub.CurrentPeriodEnd == nil || !now.Before(*sub.CurrentPeriodEnd) {
				s.startPeriod(sub, now)
			} else {
				sub.Status = models.SubscriptionActive
			}
			sub.CancelAtPeriodEnd = false
			sub.CanceledAt = nil
			eventType = events.EventSubscriptionActivated
		case "cancelled", "canceled":
			sub.Status = models.SubscriptionCanceled
			sub.CanceledAt = &now
			eventType = events.EventSubscriptionCanceled
		case "paused":
			sub.Status = models.SubscriptionUnpaid
			eventType = events.EventSubscriptionUnpaid
		default:
			s.logger.Info().Str("event_id", ev.ID).Str("status", ev.Status).Msg("subscription status acknowledged")
			return nil
		}
	}

	if ev.ProviderSubID != "" && sub.ProviderSubID == "" {
		sub.ProviderSubID = ev.ProviderSubID
	}
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	s.logger.Info().
		Str("event_id", ev.ID).
		Str("topic", topic).
		Str("payment_id", ev.PaymentID).
		Int64("user_id", sub.UserID).
		Str("status", sub.Status).
		Msg("subscription updated from webhook")
	s.publish(eventType, sub, "webhook")
	return nil
}

func (s *SubscriptionService) findForWebhook(ctx context.Context, ev models.WebhookEvent) (*models.Subscription, error) {
	if ev.ProviderSubID != "" {
		sub, err := s.subs.GetSubscriptionByProviderID(ctx, ev.ProviderSubID)
		if err == nil || !errors.Is(err, domain.ErrSubscriptionNotFound) || ev.UserID == 0 {
			return sub, err
		}
	}
	return s.subs.GetSubscriptionByUser(ctx, ev.UserID)
}

func (s *SubscriptionService) applyPlan(sub *models.Subscription, planID string) error {
	if planID == "" || planID == sub.Plan {
		return nil
	}
	amount, err := s.planAmount(planID)
	if err != nil {
		return err
	}
	sub.Plan = planID
	sub.Amount = amount
	return nil
}

func (s *SubscriptionService) startPeriod(sub *models.Subscription, now time.Time) {
	end := now.AddDate(0, 0, s.cfg.PeriodDays)
	sub.Status = models.SubscriptionActive
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end
	sub.NextPaymentDate = &end
}

func (s *SubscriptionService) publish(eventType string, sub *models.Subscription, source string) {
	if s.eventBus == nil {
		return
	}
	payload := events.SubscriptionEventPayload{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Plan:           sub.Plan,
		Status:         sub.Status,
		PeriodEnd:      sub.CurrentPeriodEnd,
		Source:         source,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("user_id", sub.UserID).Msg("publish event error")
	}
}
