package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports/mocks"
	"overlaycast/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventBus_PublishOverlay(t *testing.T) {
	rdb := newFakeRedis()
	bus := NewEventBus(rdb, "overlaycast:overlays", "instance-a", zap.NewNop().Sugar())

	req := domain.OverlayRequest{Kind: domain.OverlayText, Text: "LIVE", Width: 640, Height: 360}
	require.NoError(t, bus.PublishOverlay(context.Background(), "Room1", req))

	var event Event
	require.NoError(t, json.Unmarshal([]byte(rdb.lastPublished()), &event))
	assert.Equal(t, EventOverlayRequested, event.Type)
	assert.Equal(t, "instance-a", event.InstanceID)
	assert.Equal(t, "Room1", event.SessionName)
	assert.False(t, event.Timestamp.IsZero())

	decoded, err := DecodeOverlay(&event)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestEventBus_PublishBreakerOpensOnRedisErrors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.publishErr = errors.New("connection refused")
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour})
	bus := NewEventBus(rdb, "ch", "instance-a", zap.NewNop().Sugar(), WithPublishBreaker(cb))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := bus.PublishSessionState(ctx, EventSessionJoined, "Room1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())

	err := bus.PublishSessionState(ctx, EventSessionLeft, "Room1")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, rdb.publishes, "open breaker must not reach redis")
}

func TestEventBus_DispatchSkipsOwnEvents(t *testing.T) {
	logger := zap.NewNop().Sugar()
	rdb := newFakeRedis()
	local := NewEventBus(rdb, "ch", "instance-a", logger)
	remote := NewEventBus(rdb, "ch", "instance-b", logger)

	require.NoError(t, local.PublishSessionState(context.Background(), EventSessionJoined, "Room1"))
	payload := rdb.lastPublished()

	var delivered []*Event
	handler := func(ctx context.Context, e *Event) error {
		delivered = append(delivered, e)
		return nil
	}

	local.dispatch(context.Background(), payload, handler)
	assert.Empty(t, delivered, "own events are not delivered back")

	remote.dispatch(context.Background(), payload, handler)
	require.Len(t, delivered, 1)
	assert.Equal(t, EventSessionJoined, delivered[0].Type)
	assert.Equal(t, "instance-a", delivered[0].InstanceID)
}

func TestEventBus_DispatchSurvivesBadPayloadAndHandlerError(t *testing.T) {
	bus := NewEventBus(newFakeRedis(), "ch", "instance-a", zap.NewNop().Sugar())

	called := 0
	handler := func(ctx context.Context, e *Event) error {
		called++
		return errors.New("boom")
	}

	bus.dispatch(context.Background(), "{not json", handler)
	assert.Zero(t, called)

	bus.dispatch(context.Background(), `{"type":"overlay.requested","instance_id":"instance-b"}`, handler)
	assert.Equal(t, 1, called)
}

func TestDecodeOverlay_WrongType(t *testing.T) {
	_, err := DecodeOverlay(&Event{Type: EventSessionLeft})
	assert.Error(t, err)
}

func TestOverlayRelay_Handle(t *testing.T) {
	logger := zap.NewNop().Sugar()
	joined := &domain.Session{Name: "Room1"}
	req := domain.OverlayRequest{Kind: domain.OverlayText, Text: "LIVE"}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	tests := []struct {
		name     string
		session  *domain.Session
		event    *Event
		wantPush bool
	}{
		{"matching session", joined, &Event{Type: EventOverlayRequested, SessionName: "Room1", Payload: payload}, true},
		{"broadcast to any session", joined, &Event{Type: EventOverlayRequested, Payload: payload}, true},
		{"other session", joined, &Event{Type: EventOverlayRequested, SessionName: "Room2", Payload: payload}, false},
		{"not joined", nil, &Event{Type: EventOverlayRequested, SessionName: "Room1", Payload: payload}, false},
		{"state event", joined, &Event{Type: EventSessionJoined, SessionName: "Room1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := new(mocks.SessionService)
			session.On("Session").Return(tt.session).Maybe()
			if tt.wantPush {
				session.On("PushOverlay", mock.Anything, req).Return(nil).Once()
			}

			relay := NewOverlayRelay(NewEventBus(newFakeRedis(), "ch", "instance-a", logger), session, logger)
			require.NoError(t, relay.Handle(context.Background(), tt.event))

			session.AssertExpectations(t)
			if !tt.wantPush {
				session.AssertNotCalled(t, "PushOverlay", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestOverlayRelay_Announce(t *testing.T) {
	logger := zap.NewNop().Sugar()
	rdb := newFakeRedis()
	session := new(mocks.SessionService)
	relay := NewOverlayRelay(NewEventBus(rdb, "ch", "instance-a", logger), session, logger)

	session.On("Session").Return(nil).Once()
	assert.ErrorIs(t, relay.Announce(context.Background(), domain.OverlayRequest{Kind: domain.OverlayText}), domain.ErrSessionNotJoined)

	session.On("Session").Return(&domain.Session{Name: "Room1"}).Once()
	require.NoError(t, relay.Announce(context.Background(), domain.OverlayRequest{Kind: domain.OverlayText, Text: "hi"}))
	assert.Contains(t, rdb.lastPublished(), `"session_name":"Room1"`)
}
