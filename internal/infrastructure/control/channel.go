package control

import (
	"context"
	"errors"
	"sync"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/monitoring"
	apperrors "overlaycast/pkg/errors"

	"go.uber.org/zap"
)

var _ ports.ControlChannel = (*Channel)(nil)

// Channel is an ordered, at-most-once mailbox from the control executor to a
// processor's frame executor. Send never blocks: a newer overlay replaces one
// still pending, and when the mailbox is full the oldest message is dropped.
// The receiving side pulls pending messages with Dispatch between frames.
type Channel struct {
	mu       sync.Mutex
	pending  []domain.ControlMessage
	capacity int
	closed   bool

	// handler is only read and written on the receiving executor.
	handler func(domain.ControlMessage)

	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
}

// NewChannel holds at most buffer undelivered messages (minimum 1).
func NewChannel(buffer int, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{
		pending:  make([]domain.ControlMessage, 0, buffer),
		capacity: buffer,
		metrics:  metrics,
		logger:   logger,
	}
}

// Send posts msg for the receiver. It returns a ChannelError, dropping msg,
// when the channel is closed or ctx has already ended.
func (c *Channel) Send(ctx context.Context, msg domain.ControlMessage) error {
	if err := ctx.Err(); err != nil {
		return c.dropped(msg, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.dropped(msg, domain.ErrChannelClosed)
	}

	var superseded []domain.ControlMessage
	if msg.Cmd == domain.CmdUpdateWatermarkImage {
		kept := c.pending[:0]
		for _, queued := range c.pending {
			if queued.Cmd == domain.CmdUpdateWatermarkImage {
				superseded = append(superseded, queued)
				continue
			}
			kept = append(kept, queued)
		}
		c.pending = kept
	}
	if len(c.pending) >= c.capacity {
		superseded = append(superseded, c.pending[0])
		c.pending = append(c.pending[:0], c.pending[1:]...)
	}
	c.pending = append(c.pending, msg)
	c.mu.Unlock()

	for _, old := range superseded {
		_ = c.dropped(old, errSuperseded)
	}
	return nil
}

var errSuperseded = errors.New("superseded by a newer message")

// OnMessage sets the receiving handler. Call it from the receiving executor.
func (c *Channel) OnMessage(handler func(domain.ControlMessage)) {
	c.handler = handler
}

// Dispatch hands every message posted so far to the handler, in send order,
// and returns how many were delivered. It never blocks on senders and
// delivers at most one mailbox's worth per call.
func (c *Channel) Dispatch() int {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return 0
	}
	batch := make([]domain.ControlMessage, len(c.pending))
	copy(batch, c.pending)
	c.pending = c.pending[:0]
	closed := c.closed
	c.mu.Unlock()

	delivered := 0
	for _, msg := range batch {
		if closed || c.handler == nil {
			_ = c.dropped(msg, domain.ErrChannelClosed)
			continue
		}
		c.handler(msg)
		delivered++
	}
	return delivered
}

// Pending reports how many messages await Dispatch.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close tears the channel down. Undelivered messages are lost. Safe to call
// more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	lost := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, msg := range lost {
		_ = c.dropped(msg, domain.ErrChannelClosed)
	}
	return nil
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) dropped(msg domain.ControlMessage, cause error) error {
	if c.metrics != nil {
		c.metrics.RecordControlMessageDropped()
	}
	c.logger.Debugw("Control message dropped",
		"cmd", msg.Cmd,
		"reason", cause,
	)
	return apperrors.NewChannelError("control message not delivered", cause)
}
