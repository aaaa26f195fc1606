package services

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	apperrors "overlaycast/pkg/errors"
	"overlaycast/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mocks

type MockCredentialIssuer struct {
	mock.Mock
}

func (m *MockCredentialIssuer) Issue(sessionName string, role int, ttl time.Duration) (string, *domain.Credential, error) {
	args := m.Called(sessionName, role, ttl)
	cred, _ := args.Get(1).(*domain.Credential)
	return args.String(0), cred, args.Error(2)
}

func (m *MockCredentialIssuer) Validate(token string) (*domain.Credential, error) {
	args := m.Called(token)
	cred, _ := args.Get(0).(*domain.Credential)
	return cred, args.Error(1)
}

type MockOverlayGenerator struct {
	mock.Mock
}

func (m *MockOverlayGenerator) GenerateTextOverlay(ctx context.Context, text string, width, height int) (*domain.Bitmap, error) {
	args := m.Called(ctx, text, width, height)
	bitmap, _ := args.Get(0).(*domain.Bitmap)
	return bitmap, args.Error(1)
}

func (m *MockOverlayGenerator) GenerateCardOverlay(ctx context.Context, opts domain.CardOptions) (*domain.Bitmap, error) {
	args := m.Called(ctx, opts)
	bitmap, _ := args.Get(0).(*domain.Bitmap)
	return bitmap, args.Error(1)
}

// Fakes recording the order of transport calls

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeStream struct {
	log       *callLog
	capturing bool
	addErr    error
	attached  map[domain.UserID]bool
}

func (s *fakeStream) AddProcessor(ctx context.Context, p ports.FrameProcessor) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.log.add("add_processor:" + p.Name())
	return p.OnInit()
}

func (s *fakeStream) RemoveProcessor(ctx context.Context, name string) error {
	s.log.add("remove_processor:" + name)
	return nil
}

func (s *fakeStream) StartVideo(ctx context.Context) error {
	s.log.add("start_video")
	s.capturing = true
	return nil
}

func (s *fakeStream) StopVideo(ctx context.Context) error {
	s.log.add("stop_video")
	s.capturing = false
	return nil
}

func (s *fakeStream) IsCapturingVideo() bool { return s.capturing }

func (s *fakeStream) AttachVideo(ctx context.Context, userID domain.UserID) (*domain.VideoHandle, error) {
	s.log.add("attach:" + string(userID))
	s.attached[userID] = true
	return &domain.VideoHandle{ID: "tile-" + string(userID), UserID: userID}, nil
}

func (s *fakeStream) DetachVideo(ctx context.Context, userID domain.UserID) error {
	s.log.add("detach:" + string(userID))
	delete(s.attached, userID)
	return nil
}

type fakeClient struct {
	log     *callLog
	stream  *fakeStream
	joinErr error
	handler func(domain.VideoStateEvent)
	token   string
}

func (c *fakeClient) Join(ctx context.Context, topic, token, userName string) (*domain.Session, error) {
	if c.joinErr != nil {
		return nil, c.joinErr
	}
	c.log.add("join:" + topic)
	c.token = token
	return &domain.Session{ID: "sess-1", Name: topic, UserName: userName, UserID: "self", JoinedAt: time.Now()}, nil
}

func (c *fakeClient) Leave(ctx context.Context) error {
	c.log.add("leave")
	return nil
}

func (c *fakeClient) MediaStream() ports.MediaStream { return c.stream }

func (c *fakeClient) OnVideoStateChange(handler func(domain.VideoStateEvent)) func() {
	c.handler = handler
	return func() {
		c.log.add("unsubscribe")
		c.handler = nil
	}
}

type fakeChannel struct {
	log    *callLog
	sent   []domain.ControlMessage
	closed bool
}

func (c *fakeChannel) Send(ctx context.Context, msg domain.ControlMessage) error {
	if c.closed {
		return apperrors.NewChannelError("closed", domain.ErrChannelClosed)
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) OnMessage(func(domain.ControlMessage)) {}
func (c *fakeChannel) Dispatch() int                         { return 0 }

func (c *fakeChannel) Close() error {
	c.log.add("close_channel")
	c.closed = true
	return nil
}

type fakeProcessor struct {
	log *callLog
}

func (p *fakeProcessor) Name() string                    { return "watermark-processor" }
func (p *fakeProcessor) OnInit() error                   { p.log.add("on_init"); return nil }
func (p *fakeProcessor) ProcessFrame(*domain.Frame) bool { return true }
func (p *fakeProcessor) OnUninit()                       { p.log.add("on_uninit") }

type sessionFixture struct {
	svc       ports.SessionService
	log       *callLog
	client    *fakeClient
	stream    *fakeStream
	channel   *fakeChannel
	issuer    *MockCredentialIssuer
	generator *MockOverlayGenerator
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	log := &callLog{}
	stream := &fakeStream{log: log, attached: map[domain.UserID]bool{}}
	f := &sessionFixture{
		log:       log,
		stream:    stream,
		client:    &fakeClient{log: log, stream: stream},
		channel:   &fakeChannel{log: log},
		issuer:    new(MockCredentialIssuer),
		generator: new(MockOverlayGenerator),
	}
	cfg := SessionConfig{
		CredentialTTL: 2 * time.Hour,
		OverlayWidth:  1280,
		OverlayHeight: 720,
		Retry: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}
	f.svc = NewSessionService(
		f.client,
		f.issuer,
		f.generator,
		func() ports.ControlChannel { return f.channel },
		func(ch ports.ControlChannel) ports.FrameProcessor { return &fakeProcessor{log: log} },
		cfg,
		nil,
		zap.NewNop().Sugar(),
	)
	return f
}

func overlayBitmap() *domain.Bitmap {
	return domain.NewBitmap(image.NewRGBA(image.Rect(0, 0, 1280, 720)))
}

func textOverlay() domain.OverlayRequest {
	return domain.OverlayRequest{Kind: domain.OverlayText, Text: "Hello world!"}
}

func (f *sessionFixture) join(t *testing.T) *domain.Session {
	t.Helper()
	f.issuer.On("Issue", "TestOne", 1, 2*time.Hour).Return("signed-token", &domain.Credential{Topic: "TestOne"}, nil).Once()
	f.generator.On("GenerateTextOverlay", mock.Anything, "Hello world!", 1280, 720).Return(overlayBitmap(), nil).Once()

	session, err := f.svc.Join(context.Background(), domain.JoinRequest{
		SessionName: "TestOne",
		UserName:    "User-1",
		Role:        1,
		Overlay:     textOverlay(),
	})
	require.NoError(t, err)
	return session
}

func TestSessionService_JoinAttachesProcessorThenPushesOverlay(t *testing.T) {
	f := newSessionFixture(t)

	session := f.join(t)

	assert.Equal(t, "TestOne", session.Name)
	assert.Equal(t, "signed-token", f.client.token)
	assert.Equal(t, domain.SessionConnected, f.svc.State())
	assert.Equal(t, []string{
		"join:TestOne",
		"start_video",
		"add_processor:watermark-processor",
		"on_init",
		"attach:self",
	}, f.log.list())

	require.Len(t, f.channel.sent, 1)
	assert.Equal(t, domain.CmdUpdateWatermarkImage, f.channel.sent[0].Cmd)
	assert.Equal(t, 1280, f.channel.sent[0].Image.Width())
	f.issuer.AssertExpectations(t)
	f.generator.AssertExpectations(t)
}

func TestSessionService_JoinFailsOnCredentialError(t *testing.T) {
	f := newSessionFixture(t)
	f.issuer.On("Issue", "TestOne", -1, 2*time.Hour).Return("", nil, apperrors.NewConfigError("role must be >= 0"))

	_, err := f.svc.Join(context.Background(), domain.JoinRequest{SessionName: "TestOne", Role: -1})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfig))
	assert.Equal(t, domain.SessionIdle, f.svc.State())
	assert.Empty(t, f.log.list(), "transport must not be touched")
}

func TestSessionService_JoinRejectsTokenForOtherSession(t *testing.T) {
	f := newSessionFixture(t)
	f.issuer.On("Validate", "tok").Return(&domain.Credential{Topic: "Other"}, nil)

	_, err := f.svc.Join(context.Background(), domain.JoinRequest{SessionName: "TestOne", Token: "tok"})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
	assert.Equal(t, domain.SessionIdle, f.svc.State())
}

func TestSessionService_JoinRollsBackWhenProcessorCannotAttach(t *testing.T) {
	f := newSessionFixture(t)
	f.stream.addErr = errors.New("pipeline stopped")
	f.issuer.On("Issue", "TestOne", 1, 2*time.Hour).Return("signed-token", &domain.Credential{}, nil)

	_, err := f.svc.Join(context.Background(), domain.JoinRequest{SessionName: "TestOne", Role: 1})

	require.Error(t, err)
	assert.Equal(t, domain.SessionIdle, f.svc.State())
	assert.True(t, f.channel.closed)
	assert.Equal(t, []string{"join:TestOne", "start_video", "close_channel", "unsubscribe", "leave"}, f.log.list())
}

func TestSessionService_JoinTwiceFails(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	_, err := f.svc.Join(context.Background(), domain.JoinRequest{SessionName: "TestOne", Role: 1})
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)
}

func TestSessionService_LeaveOrder(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)
	require.NoError(t, f.svc.HandleVideoStateChange(context.Background(), domain.VideoStateEvent{Action: domain.VideoStart, UserID: "peer"}))

	require.NoError(t, f.svc.Leave(context.Background()))

	calls := f.log.list()
	teardown := calls[len(calls)-6:]
	assert.Equal(t, "remove_processor:watermark-processor", teardown[0])
	assert.Equal(t, "close_channel", teardown[1])
	assert.ElementsMatch(t, []string{"detach:self", "detach:peer"}, teardown[2:4])
	assert.Equal(t, []string{"unsubscribe", "leave"}, teardown[4:])

	assert.Equal(t, domain.SessionIdle, f.svc.State())
	assert.Nil(t, f.svc.Session())
	assert.ErrorIs(t, f.svc.PushOverlay(context.Background(), textOverlay()), domain.ErrSessionNotJoined)
	assert.ErrorIs(t, f.svc.Leave(context.Background()), domain.ErrSessionNotJoined)
}

func TestSessionService_PushOverlayRetriesRenderErrors(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	card := &domain.CardOptions{Name: "Ada", Title: "Engineer", Company: "AE"}
	f.generator.On("GenerateCardOverlay", mock.Anything, *card).Return(nil, apperrors.NewRenderError("busy", nil)).Once()
	f.generator.On("GenerateCardOverlay", mock.Anything, *card).Return(overlayBitmap(), nil).Once()

	err := f.svc.PushOverlay(context.Background(), domain.OverlayRequest{Kind: domain.OverlayCard, Card: card})
	require.NoError(t, err)
	assert.Len(t, f.channel.sent, 2)
	f.generator.AssertExpectations(t)
}

func TestSessionService_PushOverlayFailureKeepsPreviousOverlay(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.generator.On("GenerateTextOverlay", mock.Anything, "boom", 0, 10).Return(nil, apperrors.NewRenderError("cannot allocate drawing surface", nil))

	err := f.svc.PushOverlay(context.Background(), domain.OverlayRequest{Kind: domain.OverlayText, Text: "boom", Height: 10})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRender))
	assert.Len(t, f.channel.sent, 1, "only the initial overlay was sent")
	f.generator.AssertNumberOfCalls(t, "GenerateTextOverlay", 1+3)
}

func TestSessionService_PushOverlayRejectsUnknownKind(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	err := f.svc.PushOverlay(context.Background(), domain.OverlayRequest{Kind: "banner"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	err = f.svc.PushOverlay(context.Background(), domain.OverlayRequest{Kind: domain.OverlayCard})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestSessionService_MembershipEvents(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.client.handler(domain.VideoStateEvent{Action: domain.VideoStart, UserID: "peer"})
	assert.True(t, f.stream.attached["peer"])

	f.client.handler(domain.VideoStateEvent{Action: domain.VideoStop, UserID: "peer"})
	assert.False(t, f.stream.attached["peer"])

	assert.NoError(t, f.svc.HandleVideoStateChange(context.Background(), domain.VideoStateEvent{Action: domain.VideoStop, UserID: "ghost"}))
	assert.Error(t, f.svc.HandleVideoStateChange(context.Background(), domain.VideoStateEvent{Action: "Pause", UserID: "peer"}))
}

func TestSessionService_ToggleVideo(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	on, err := f.svc.ToggleVideo(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, f.stream.attached["self"])

	on, err = f.svc.ToggleVideo(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, f.stream.attached["self"])
}

func TestSessionService_ForwardControl(t *testing.T) {
	f := newSessionFixture(t)

	err := f.svc.ForwardControl(context.Background(), domain.NewReplaceOverlay(overlayBitmap()))
	assert.ErrorIs(t, err, domain.ErrSessionNotJoined)

	f.join(t)
	require.NoError(t, f.svc.ForwardControl(context.Background(), domain.NewReplaceOverlay(overlayBitmap())))
	assert.Len(t, f.channel.sent, 2)
}
