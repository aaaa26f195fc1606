package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ ports.SessionClient = (*LoopbackClient)(nil)

// LoopbackClient is a single-process session transport. It verifies the
// join credential, hands out the local media stream and lets callers inject
// membership events.
type LoopbackClient struct {
	stream   *Stream
	verifier ports.CredentialIssuer

	mu       sync.RWMutex
	session  *domain.Session
	handlers map[uint64]func(domain.VideoStateEvent)
	nextID   uint64

	logger *zap.SugaredLogger
}

func NewLoopbackClient(stream *Stream, verifier ports.CredentialIssuer, logger *zap.SugaredLogger) *LoopbackClient {
	return &LoopbackClient{
		stream:   stream,
		verifier: verifier,
		handlers: make(map[uint64]func(domain.VideoStateEvent)),
		logger:   logger,
	}
}

func (c *LoopbackClient) Join(ctx context.Context, topic, token, userName string) (*domain.Session, error) {
	cred, err := c.verifier.Validate(token)
	if err != nil {
		return nil, err
	}
	if cred.Topic != topic {
		return nil, fmt.Errorf("credential topic %q does not match %q: %w", cred.Topic, topic, domain.ErrInvalidCredential)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil, domain.ErrAlreadyJoined
	}
	if userName == "" {
		userName = fmt.Sprintf("User-%d", time.Now().UnixMilli()%1_000_000)
	}
	c.session = &domain.Session{
		ID:       domain.SessionID(uuid.NewString()),
		Name:     topic,
		UserName: userName,
		UserID:   domain.UserID(uuid.NewString()),
		JoinedAt: time.Now(),
	}

	c.logger.Infow("Loopback session joined",
		"session", topic,
		"user_name", userName,
		"role", cred.RoleType,
	)
	session := *c.session
	return &session, nil
}

func (c *LoopbackClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return domain.ErrSessionNotJoined
	}
	c.logger.Infow("Loopback session left", "session", c.session.Name)
	c.session = nil
	return nil
}

func (c *LoopbackClient) MediaStream() ports.MediaStream {
	return c.stream
}

func (c *LoopbackClient) OnVideoStateChange(handler func(domain.VideoStateEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// EmitVideoState delivers a membership event to every subscriber.
func (c *LoopbackClient) EmitVideoState(event domain.VideoStateEvent) error {
	c.mu.RLock()
	if c.session == nil {
		c.mu.RUnlock()
		return domain.ErrSessionNotJoined
	}
	handlers := make([]func(domain.VideoStateEvent), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}
