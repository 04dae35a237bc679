package events

import (
	"errors"
	"testing"
	"time"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int
	bus.Subscribe(EventBookingCreated, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	payload := BookingEventPayload{BookingID: 7, RoomID: 1, Status: "pending", StartTime: start, TotalPrice: "200.00"}
	if err := bus.PublishJSON(EventBookingCreated, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Fatalf("expected 1 call, got %d", callCount)
	}
	if received.ID == "" {
		t.Errorf("expected event id to be assigned")
	}

	var decoded BookingEventPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.BookingID != 7 || decoded.TotalPrice != "200.00" || !decoded.StartTime.Equal(start) {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBus_WildcardAndOtherTypes(t *testing.T) {
	bus := NewEventBus()
	var specific, all int

	bus.Subscribe(EventBookingCanceled, func(_ *Event) error { specific++; return nil })
	bus.Subscribe(AllTypes, func(_ *Event) error { all++; return nil })

	_ = bus.PublishJSON(EventBookingCanceled, map[string]int{"booking_id": 1})
	_ = bus.PublishJSON(EventSubscriptionActivated, map[string]int{"user_id": 2})

	if specific != 1 {
		t.Errorf("expected specific handler once, got %d", specific)
	}
	if all != 2 {
		t.Errorf("expected wildcard handler twice, got %d", all)
	}
}

func TestEventBus_HandlerErrorsAreJoined(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	var second bool

	bus.Subscribe("x", func(_ *Event) error { return boom })
	bus.Subscribe("x", func(_ *Event) error { second = true; return nil })

	err := bus.PublishJSON("x", struct{}{})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to contain boom, got %v", err)
	}
	if !second {
		t.Errorf("later handlers must still run")
	}
}

func TestEventBus_NilAndBadPayload(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON("x", 1); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}

	if _, err := NewJSONEvent("x", make(chan int)); err == nil {
		t.Errorf("expected marshal error for channel payload")
	}
}
