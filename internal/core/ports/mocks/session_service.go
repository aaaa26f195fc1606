// Package mocks holds testify mocks of the core ports.
package mocks

import (
	"context"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

var _ ports.SessionService = (*SessionService)(nil)

type SessionService struct {
	mock.Mock
}

func (m *SessionService) Join(ctx context.Context, req domain.JoinRequest) (*domain.Session, error) {
	args := m.Called(ctx, req)
	session, _ := args.Get(0).(*domain.Session)
	return session, args.Error(1)
}

func (m *SessionService) Leave(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *SessionService) PushOverlay(ctx context.Context, req domain.OverlayRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *SessionService) AttachVideo(ctx context.Context, userID domain.UserID) (*domain.VideoHandle, error) {
	args := m.Called(ctx, userID)
	handle, _ := args.Get(0).(*domain.VideoHandle)
	return handle, args.Error(1)
}

func (m *SessionService) DetachVideo(ctx context.Context, userID domain.UserID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *SessionService) HandleVideoStateChange(ctx context.Context, event domain.VideoStateEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *SessionService) ToggleVideo(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *SessionService) ForwardControl(ctx context.Context, msg domain.ControlMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *SessionService) State() domain.SessionState {
	return m.Called().Get(0).(domain.SessionState)
}

func (m *SessionService) Session() *domain.Session {
	session, _ := m.Called().Get(0).(*domain.Session)
	return session
}

func (m *SessionService) Processor() ports.FrameProcessor {
	processor, _ := m.Called().Get(0).(ports.FrameProcessor)
	return processor
}
