package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated     = "booking_created"
	EventBookingRescheduled = "booking_rescheduled"
	EventBookingConfirmed   = "booking_confirmed"
	EventBookingCanceled    = "booking_canceled"
	EventBookingCompleted   = "booking_completed"
	EventBookingDeleted     = "booking_deleted"

	EventSubscriptionProvisioned = "subscription_provisioned"
	EventSubscriptionActivated   = "subscription_activated"
	EventSubscriptionPastDue     = "subscription_past_due"
	EventSubscriptionUnpaid      = "subscription_unpaid"
	EventSubscriptionCanceled    = "subscription_canceled"
	EventSubscriptionReactivated = "subscription_reactivated"
)

// AllTypes matches every event type in Subscribe.
const AllTypes = "*"

// BookingEventPayload is the booking snapshot handed to consumers.
type BookingEventPayload struct {
	BookingID   int64     `json:"booking_id"`
	RoomID      int64     `json:"room_id"`
	RoomName    string    `json:"room_name,omitempty"`
	RequesterID int64     `json:"requester_id"`
	Status      string    `json:"status"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	TotalPrice  string    `json:"total_price"`
	ChangedByID int64     `json:"changed_by_id,omitempty"`
}

type SubscriptionEventPayload struct {
	SubscriptionID int64      `json:"subscription_id"`
	UserID         int64      `json:"user_id"`
	Plan           string     `json:"plan"`
	Status         string     `json:"status"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
	Source         string     `json:"source,omitempty"` // api, webhook, registration
}

// Event is a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// EventBus is an in-process synchronous pub/sub.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers handler for eventType, or for every type with AllTypes.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every matching handler and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllTypes]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes payload and publishes it. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
