package ports

import (
	"context"
	"time"

	"overlaycast/internal/core/domain"
)

// OverlayGenerator renders overlay assets. Implementations hold no state
// between calls.
type OverlayGenerator interface {
	GenerateTextOverlay(ctx context.Context, text string, width, height int) (*domain.Bitmap, error)
	GenerateCardOverlay(ctx context.Context, opts domain.CardOptions) (*domain.Bitmap, error)
}

type CredentialIssuer interface {
	Issue(sessionName string, role int, ttl time.Duration) (string, *domain.Credential, error)
	Validate(token string) (*domain.Credential, error)
}

type SessionService interface {
	Join(ctx context.Context, req domain.JoinRequest) (*domain.Session, error)
	Leave(ctx context.Context) error
	PushOverlay(ctx context.Context, req domain.OverlayRequest) error
	AttachVideo(ctx context.Context, userID domain.UserID) (*domain.VideoHandle, error)
	DetachVideo(ctx context.Context, userID domain.UserID) error
	HandleVideoStateChange(ctx context.Context, event domain.VideoStateEvent) error
	ToggleVideo(ctx context.Context) (bool, error)
	ForwardControl(ctx context.Context, msg domain.ControlMessage) error
	State() domain.SessionState
	Session() *domain.Session
	Processor() FrameProcessor
}

// SessionMetrics is the subset of the metrics collector the session layer
// reports to.
type SessionMetrics interface {
	RecordSessionJoined()
	RecordSessionLeft()
	RecordVideoAttached()
	RecordVideoDetached()
	RecordOverlayPush(duration time.Duration)
}
