package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventOverlayRequested EventType = "overlay.requested"
	EventSessionJoined    EventType = "session.joined"
	EventSessionLeft      EventType = "session.left"
)

// Event is the envelope published on the bus.
type Event struct {
	Type        EventType       `json:"type"`
	InstanceID  string          `json:"instance_id"`
	Timestamp   time.Time       `json:"timestamp"`
	SessionName string          `json:"session_name,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// EventHandler handles an event published by another instance.
type EventHandler func(ctx context.Context, event *Event) error

// EventBus fans events out to every compositor instance sharing a Redis
// channel. Events published by this instance are not delivered back to it.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	breaker    *circuitbreaker.CircuitBreaker

	mu     sync.Mutex
	pubsub *redis.PubSub
}

type EventBusOption func(*EventBus)

// WithPublishBreaker fails publishes fast while Redis keeps erroring.
func WithPublishBreaker(cb *circuitbreaker.CircuitBreaker) EventBusOption {
	return func(eb *EventBus) { eb.breaker = cb }
}

func NewEventBus(client redis.UniversalClient, channel, instanceID string, logger *zap.SugaredLogger, opts ...EventBusOption) *EventBus {
	eb := &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(eb)
	}
	return eb
}

func (eb *EventBus) InstanceID() string {
	return eb.instanceID
}

// Publish stamps and publishes an event.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	publish := func(ctx context.Context) error {
		return eb.client.Publish(ctx, eb.channel, data).Err()
	}
	if eb.breaker != nil {
		err = eb.breaker.Execute(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	eb.logger.Debugw("Published event",
		"type", event.Type,
		"session", event.SessionName,
	)
	return nil
}

// PublishOverlay announces an overlay request for a session.
func (eb *EventBus) PublishOverlay(ctx context.Context, sessionName string, req domain.OverlayRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal overlay request: %w", err)
	}
	return eb.Publish(ctx, &Event{
		Type:        EventOverlayRequested,
		SessionName: sessionName,
		Payload:     payload,
	})
}

// PublishSessionState announces that this instance joined or left a session.
func (eb *EventBus) PublishSessionState(ctx context.Context, eventType EventType, sessionName string) error {
	return eb.Publish(ctx, &Event{Type: eventType, SessionName: sessionName})
}

// Subscribe blocks delivering events from other instances until ctx ends or
// the bus is closed.
func (eb *EventBus) Subscribe(ctx context.Context, handler EventHandler) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(ctx, msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(ctx context.Context, payload string, handler EventHandler) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("Failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}

	if event.InstanceID == eb.instanceID {
		return
	}

	if err := handler(ctx, &event); err != nil {
		eb.logger.Warnw("Error handling event",
			"type", event.Type,
			"instance_id", event.InstanceID,
			"error", err,
		)
	}
}

// Close ends an active subscription.
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}

// DecodeOverlay extracts the overlay request carried by an
// EventOverlayRequested event.
func DecodeOverlay(event *Event) (domain.OverlayRequest, error) {
	var req domain.OverlayRequest
	if event.Type != EventOverlayRequested {
		return req, fmt.Errorf("event %s carries no overlay", event.Type)
	}
	if err := json.Unmarshal(event.Payload, &req); err != nil {
		return req, fmt.Errorf("failed to unmarshal overlay request: %w", err)
	}
	return req, nil
}
