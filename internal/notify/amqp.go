// Package notify publishes booking lifecycle events to RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/timeutil"
)

// DefaultQueue receives one message per created batch.
const DefaultQueue = "bookings.created"

// EventBookingsCreated is the type field of published events.
const EventBookingsCreated = "bookings.created"

// Event is the JSON body of a published message.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt string         `json:"occurredAt"`
	Bookings   []BookingEvent `json:"bookings"`
}

// BookingEvent is the wire view of one created booking.
type BookingEvent struct {
	ID          string  `json:"id"`
	RoomID      string  `json:"roomId"`
	UserID      string  `json:"userId"`
	Title       string  `json:"title"`
	StartTime   string  `json:"startTime"`
	EndTime     string  `json:"endTime"`
	IsRecurring bool    `json:"isRecurring"`
	Authorizer  *string `json:"authorizer,omitempty"`
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, io.Closer, error)

func dialAMQP(url string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// Publisher implements application.BookingNotifier. The connection is opened
// on first use and dropped after any publish failure so the next call redials.
type Publisher struct {
	url    string
	queue  string
	dial   dialFunc
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	mu   sync.Mutex
	ch   channel
	conn io.Closer
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithQueue overrides DefaultQueue.
func WithQueue(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.queue = name
		}
	}
}

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the clock used for OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, opts ...Option) *Publisher {
	p := &Publisher{
		url:    url,
		queue:  DefaultQueue,
		dial:   dialAMQP,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BookingsCreated publishes one persistent message describing bookings.
func (p *Publisher) BookingsCreated(ctx context.Context, bookings []application.Booking) error {
	if len(bookings) == 0 {
		return nil
	}

	event := Event{
		ID:         p.newID(),
		Type:       EventBookingsCreated,
		OccurredAt: timeutil.FormatInstant(p.now()),
		Bookings:   make([]BookingEvent, 0, len(bookings)),
	}
	for _, b := range bookings {
		event.Bookings = append(event.Bookings, BookingEvent{
			ID:          b.ID,
			RoomID:      b.RoomID,
			UserID:      b.UserID,
			Title:       b.Title,
			StartTime:   timeutil.FormatInstant(b.Start),
			EndTime:     timeutil.FormatInstant(b.End),
			IsRecurring: b.IsRecurring,
			Authorizer:  b.Authorizer,
		})
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    p.now(),
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("notify: publish to %s: %w", p.queue, err)
	}

	p.logger.DebugContext(ctx, "bookings event published", "queue", p.queue, "event_id", event.ID, "bookings", len(bookings))
	return nil
}

func (p *Publisher) channelLocked() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial broker: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("notify: declare queue %s: %w", p.queue, err)
	}
	p.ch, p.conn = ch, conn
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the broker connection, if one is open.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
