// Package notify forwards domain events to the managers' Telegram chats.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"studioflow/internal/domain"
	"studioflow/internal/events"
)

const (
	queueSize  = 256
	timeLayout = "02/01/2006 15:04"
)

var bookingTitles = map[string]string{
	events.EventBookingCreated:     "Nova reserva",
	events.EventBookingRescheduled: "Reserva remarcada",
	events.EventBookingConfirmed:   "Reserva confirmada",
	events.EventBookingCanceled:    "Reserva cancelada",
	events.EventBookingCompleted:   "Reserva concluída",
	events.EventBookingDeleted:     "Reserva removida",
}

var subscriptionTitles = map[string]string{
	events.EventSubscriptionProvisioned: "Trial iniciado",
	events.EventSubscriptionActivated:   "Assinatura ativada",
	events.EventSubscriptionPastDue:     "Pagamento recusado",
	events.EventSubscriptionUnpaid:      "Assinatura suspensa",
	events.EventSubscriptionCanceled:    "Assinatura cancelada",
	events.EventSubscriptionReactivated: "Assinatura reativada",
}

// TelegramNotifier turns bus events into chat messages. Handlers only queue
// the text; Run does the sending so a slow Telegram API never holds up a request.
type TelegramNotifier struct {
	bot     domain.TelegramSender
	chatIDs []int64
	queue   chan string
	loc     *time.Location
	logger  *zerolog.Logger
}

func NewTelegramNotifier(bot domain.TelegramSender, chatIDs []int64, loc *time.Location, logger *zerolog.Logger) *TelegramNotifier {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		queue:   make(chan string, queueSize),
		loc:     loc,
		logger:  logger,
	}
}

// Attach subscribes the notifier to every event on bus.
func (n *TelegramNotifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.AllTypes, n.Handle)
}

// Handle formats a known event and queues it. Unknown types are ignored.
func (n *TelegramNotifier) Handle(event *events.Event) error {
	text, ok, err := n.Format(event)
	if err != nil {
		return fmt.Errorf("format %s: %w", event.Type, err)
	}
	if !ok {
		return nil
	}

	select {
	case n.queue <- text:
	default:
		n.logger.Warn().Str("event_type", event.Type).Msg("notification queue full, message dropped")
	}
	return nil
}

// Run sends queued messages until ctx is done.
func (n *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			n.broadcast(text)
		}
	}
}

func (n *TelegramNotifier) broadcast(text string) {
	for _, chatID := range n.chatIDs {
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
		}
	}
}

// Format renders the message for event. ok is false for event types that
// are not announced.
func (n *TelegramNotifier) Format(event *events.Event) (text string, ok bool, err error) {
	if title, found := bookingTitles[event.Type]; found {
		var p events.BookingEventPayload
		if err := event.Decode(&p); err != nil {
			return "", false, err
		}
		return n.formatBooking(title, p), true, nil
	}
	if title, found := subscriptionTitles[event.Type]; found {
		var p events.SubscriptionEventPayload
		if err := event.Decode(&p); err != nil {
			return "", false, err
		}
		return n.formatSubscription(title, p), true, nil
	}
	return "", false, nil
}

func (n *TelegramNotifier) formatBooking(title string, p events.BookingEventPayload) string {
	room := p.RoomName
	if room == "" {
		room = fmt.Sprintf("#%d", p.RoomID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s #%d\n", title, p.BookingID)
	fmt.Fprintf(&sb, "Sala: %s\n", room)
	fmt.Fprintf(&sb, "Cliente: %d\n", p.RequesterID)
	fmt.Fprintf(&sb, "Horário: %s - %s\n", p.StartTime.In(n.loc).Format(timeLayout), p.EndTime.In(n.loc).Format("15:04"))
	fmt.Fprintf(&sb, "Status: %s", p.Status)
	if p.TotalPrice != "" {
		fmt.Fprintf(&sb, "\nValor: R$ %s", p.TotalPrice)
	}
	return sb.String()
}

func (n *TelegramNotifier) formatSubscription(title string, p events.SubscriptionEventPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", title)
	fmt.Fprintf(&sb, "Usuário: %d\n", p.UserID)
	fmt.Fprintf(&sb, "Plano: %s\n", p.Plan)
	fmt.Fprintf(&sb, "Status: %s", p.Status)
	if p.PeriodEnd != nil {
		fmt.Fprintf(&sb, "\nVálida até: %s", p.PeriodEnd.In(n.loc).Format(timeLayout))
	}
	return sb.String()
}
