package distributed

import (
	"context"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"go.uber.org/zap"
)

// OverlayRelay applies overlay requests published by other instances to the
// local session, and publishes local requests for them.
type OverlayRelay struct {
	bus     *EventBus
	session ports.SessionService
	logger  *zap.SugaredLogger
}

func NewOverlayRelay(bus *EventBus, session ports.SessionService, logger *zap.SugaredLogger) *OverlayRelay {
	return &OverlayRelay{bus: bus, session: session, logger: logger}
}

// Run subscribes to the bus until ctx ends.
func (r *OverlayRelay) Run(ctx context.Context) error {
	return r.bus.Subscribe(ctx, r.Handle)
}

// Handle pushes a remote overlay request when it targets the joined session.
func (r *OverlayRelay) Handle(ctx context.Context, event *Event) error {
	if event.Type != EventOverlayRequested {
		r.logger.Debugw("Ignoring event",
			"type", event.Type,
			"session", event.SessionName,
			"instance_id", event.InstanceID,
		)
		return nil
	}

	session := r.session.Session()
	if session == nil || (event.SessionName != "" && event.SessionName != session.Name) {
		return nil
	}

	req, err := DecodeOverlay(event)
	if err != nil {
		return err
	}

	r.logger.Infow("Applying remote overlay",
		"kind", req.Kind,
		"session", session.Name,
		"instance_id", event.InstanceID,
	)
	return r.session.PushOverlay(ctx, req)
}

// Announce publishes a locally applied overlay request.
func (r *OverlayRelay) Announce(ctx context.Context, req domain.OverlayRequest) error {
	session := r.session.Session()
	if session == nil {
		return domain.ErrSessionNotJoined
	}
	return r.bus.PublishOverlay(ctx, session.Name, req)
}
