package ports

import (
	"context"

	"overlaycast/internal/core/domain"
)

// FrameProcessor is a named stage on a media pipeline. All methods are
// invoked from the pipeline's frame goroutine only.
type FrameProcessor interface {
	Name() string
	OnInit() error
	// ProcessFrame returns true when the frame was handled, including when
	// it was intentionally left undrawn.
	ProcessFrame(frame *domain.Frame) bool
	OnUninit()
}

// FrameSink receives composited frames. The frame's image is only valid for
// the duration of the call.
type FrameSink interface {
	Consume(frame *domain.Frame)
}

type MediaStream interface {
	// AddProcessor attaches p and delivers OnInit on the frame goroutine.
	AddProcessor(ctx context.Context, p FrameProcessor) error
	// RemoveProcessor detaches the named processor and delivers its OnUninit
	// on the frame goroutine before returning, so no later frame reaches it.
	RemoveProcessor(ctx context.Context, name string) error
	StartVideo(ctx context.Context) error
	StopVideo(ctx context.Context) error
	IsCapturingVideo() bool
	AttachVideo(ctx context.Context, userID domain.UserID) (*domain.VideoHandle, error)
	DetachVideo(ctx context.Context, userID domain.UserID) error
}

// SessionClient is the conferencing transport boundary.
type SessionClient interface {
	Join(ctx context.Context, topic, token, userName string) (*domain.Session, error)
	Leave(ctx context.Context) error
	MediaStream() MediaStream
	OnVideoStateChange(handler func(domain.VideoStateEvent)) (unsubscribe func())
}

// ControlChannel carries control messages from the control executor to a
// processor's executor. Send never blocks; a newer overlay supersedes a
// pending one. The receiving side drains with Dispatch between frames.
type ControlChannel interface {
	Send(ctx context.Context, msg domain.ControlMessage) error
	OnMessage(handler func(domain.ControlMessage))
	Dispatch() int
	Close() error
}
