package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	apperrors "overlaycast/pkg/errors"
	"overlaycast/pkg/retry"
	"overlaycast/pkg/tracing"

	"go.uber.org/zap"
)

type SessionConfig struct {
	CredentialTTL time.Duration
	// Text overlays without explicit dimensions are rendered at this size.
	OverlayWidth  int
	OverlayHeight int
	Retry         retry.Config
}

type ChannelFactory func() ports.ControlChannel

type ProcessorFactory func(channel ports.ControlChannel) ports.FrameProcessor

// sessionService drives the session lifecycle and owns the control side of
// the compositor. Lifecycle operations are serialized by opMu; membership
// events only touch the video map.
type sessionService struct {
	client       ports.SessionClient
	issuer       ports.CredentialIssuer
	generator    ports.OverlayGenerator
	newChannel   ChannelFactory
	newProcessor ProcessorFactory
	cfg          SessionConfig
	metrics      ports.SessionMetrics
	logger       *zap.SugaredLogger

	opMu sync.Mutex

	mu          sync.RWMutex
	state       domain.SessionState
	session     *domain.Session
	channel     ports.ControlChannel
	processor   ports.FrameProcessor
	unsubscribe func()

	videoMu sync.Mutex
	videos  map[domain.UserID]*domain.VideoHandle
}

func NewSessionService(
	client ports.SessionClient,
	issuer ports.CredentialIssuer,
	generator ports.OverlayGenerator,
	newChannel ChannelFactory,
	newProcessor ProcessorFactory,
	cfg SessionConfig,
	metrics ports.SessionMetrics,
	logger *zap.SugaredLogger,
) ports.SessionService {
	if len(cfg.Retry.RetryableCodes) == 0 {
		cfg.Retry.RetryableCodes = []apperrors.ErrorCode{apperrors.ErrCodeRender}
	}
	return &sessionService{
		client:       client,
		issuer:       issuer,
		generator:    generator,
		newChannel:   newChannel,
		newProcessor: newProcessor,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
		state:        domain.SessionIdle,
		videos:       make(map[domain.UserID]*domain.VideoHandle),
	}
}

// Join enters the session, attaches the compositor to the local media
// pipeline, renders the local tile and pushes the initial overlay.
func (s *sessionService) Join(ctx context.Context, req domain.JoinRequest) (*domain.Session, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, span := tracing.TraceSession(ctx, "join", req.SessionName)
	defer span.End()

	if state := s.State(); state != domain.SessionIdle {
		return nil, fmt.Errorf("join %q in state %s: %w", req.SessionName, state, domain.ErrAlreadyJoined)
	}
	s.setState(domain.SessionConnecting)

	session, err := s.connect(ctx, req)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.setState(domain.SessionIdle)
		s.logger.Errorw("Failed to join session",
			"session", req.SessionName,
			"error", err,
		)
		return nil, err
	}

	if _, err := s.AttachVideo(ctx, session.UserID); err != nil {
		s.logger.Warnw("Failed to render local video",
			"user_id", session.UserID,
			"error", err,
		)
	}

	if req.Overlay.Kind != "" {
		if err := s.PushOverlay(ctx, req.Overlay); err != nil {
			s.logger.Warnw("Initial overlay not delivered",
				"kind", req.Overlay.Kind,
				"error", err,
			)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSessionJoined()
	}
	s.logger.Infow("Joined session",
		"session", session.Name,
		"session_id", session.ID,
		"user_id", session.UserID,
	)
	return session, nil
}

func (s *sessionService) connect(ctx context.Context, req domain.JoinRequest) (*domain.Session, error) {
	token, err := s.credential(req)
	if err != nil {
		return nil, err
	}

	unsubscribe := s.client.OnVideoStateChange(func(event domain.VideoStateEvent) {
		if err := s.HandleVideoStateChange(context.Background(), event); err != nil {
			s.logger.Warnw("Failed to apply video state change",
				"action", event.Action,
				"user_id", event.UserID,
				"error", err,
			)
		}
	})

	session, err := s.client.Join(ctx, req.SessionName, token, req.UserName)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("join session: %w", err)
	}
	session.Token = token

	stream := s.client.MediaStream()
	if err := stream.StartVideo(ctx); err != nil {
		s.abort(ctx, unsubscribe)
		return nil, fmt.Errorf("start video: %w", err)
	}

	channel := s.newChannel()
	processor := s.newProcessor(channel)
	if err := stream.AddProcessor(ctx, processor); err != nil {
		_ = channel.Close()
		s.abort(ctx, unsubscribe)
		return nil, fmt.Errorf("attach processor %s: %w", processor.Name(), err)
	}

	s.mu.Lock()
	s.session = session
	s.channel = channel
	s.processor = processor
	s.unsubscribe = unsubscribe
	s.state = domain.SessionConnected
	s.mu.Unlock()

	return session, nil
}

// credential returns the caller's token after validating it, or issues one.
func (s *sessionService) credential(req domain.JoinRequest) (string, error) {
	if req.Token == "" {
		token, _, err := s.issuer.Issue(req.SessionName, req.Role, s.cfg.CredentialTTL)
		return token, err
	}

	cred, err := s.issuer.Validate(req.Token)
	if err != nil {
		return "", err
	}
	if cred.Topic != req.SessionName {
		return "", apperrors.NewUnauthorizedError(
			fmt.Sprintf("credential is for session %q, not %q", cred.Topic, req.SessionName))
	}
	return req.Token, nil
}

func (s *sessionService) abort(ctx context.Context, unsubscribe func()) {
	unsubscribe()
	if err := s.client.Leave(ctx); err != nil {
		s.logger.Warnw("Failed to leave after aborted join", "error", err)
	}
}

// Leave tears the session down. The processor is detached (which delivers
// its OnUninit) before the control channel closes, so no late control
// message can reach a torn-down compositor.
func (s *sessionService) Leave(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	session, channel, processor, unsubscribe := s.session, s.channel, s.processor, s.unsubscribe
	state := s.state
	s.mu.RUnlock()

	if state != domain.SessionConnected {
		return domain.ErrSessionNotJoined
	}

	ctx, span := tracing.TraceSession(ctx, "leave", session.Name)
	defer span.End()

	s.setState(domain.SessionLeaving)
	stream := s.client.MediaStream()

	if err := stream.RemoveProcessor(ctx, processor.Name()); err != nil {
		s.logger.Warnw("Failed to detach processor",
			"processor", processor.Name(),
			"error", err,
		)
	}
	_ = channel.Close()

	for _, userID := range s.attachedUsers() {
		if err := s.DetachVideo(ctx, userID); err != nil {
			s.logger.Warnw("Failed to detach video",
				"user_id", userID,
				"error", err,
			)
		}
	}
	unsubscribe()

	err := s.client.Leave(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Errorw("Failed to leave session cleanly",
			"session", session.Name,
			"error", err,
		)
	}

	s.mu.Lock()
	s.session = nil
	s.channel = nil
	s.processor = nil
	s.unsubscribe = nil
	s.state = domain.SessionIdle
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSessionLeft()
	}
	s.logger.Infow("Left session", "session", session.Name, "session_id", session.ID)
	return err
}

// PushOverlay renders req and sends it to the compositor. On failure the
// compositor keeps its previous overlay.
func (s *sessionService) PushOverlay(ctx context.Context, req domain.OverlayRequest) error {
	channel, err := s.activeChannel()
	if err != nil {
		return err
	}
	start := time.Now()

	bitmap, err := retry.RetryWithResult(ctx, s.cfg.Retry, func() (*domain.Bitmap, error) {
		return s.generate(ctx, req)
	})
	if err != nil {
		s.logger.Warnw("Overlay generation failed, keeping previous overlay",
			"kind", req.Kind,
			"error", err,
		)
		return err
	}

	if err := channel.Send(ctx, domain.NewReplaceOverlay(bitmap)); err != nil {
		s.logger.Warnw("Overlay update dropped",
			"kind", req.Kind,
			"error", err,
		)
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordOverlayPush(time.Since(start))
	}
	s.logger.Infow("Overlay pushed",
		"kind", req.Kind,
		"width", bitmap.Width(),
		"height", bitmap.Height(),
	)
	return nil
}

func (s *sessionService) generate(ctx context.Context, req domain.OverlayRequest) (*domain.Bitmap, error) {
	switch req.Kind {
	case domain.OverlayText:
		width, height := req.Width, req.Height
		if width == 0 && height == 0 {
			width, height = s.cfg.OverlayWidth, s.cfg.OverlayHeight
		}
		return s.generator.GenerateTextOverlay(ctx, req.Text, width, height)
	case domain.OverlayCard:
		if req.Card == nil {
			return nil, apperrors.NewInvalidInputError("card overlay requires card fields")
		}
		return s.generator.GenerateCardOverlay(ctx, *req.Card)
	default:
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown overlay kind %q", req.Kind))
	}
}

// ForwardControl sends an already decoded control message to the
// compositor.
func (s *sessionService) ForwardControl(ctx context.Context, msg domain.ControlMessage) error {
	channel, err := s.activeChannel()
	if err != nil {
		return err
	}
	return channel.Send(ctx, msg)
}

func (s *sessionService) AttachVideo(ctx context.Context, userID domain.UserID) (*domain.VideoHandle, error) {
	if err := s.requireMedia(); err != nil {
		return nil, err
	}

	s.videoMu.Lock()
	defer s.videoMu.Unlock()

	if handle, ok := s.videos[userID]; ok {
		return handle, nil
	}

	handle, err := s.client.MediaStream().AttachVideo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("attach video for %s: %w", userID, err)
	}
	s.videos[userID] = handle
	if s.metrics != nil {
		s.metrics.RecordVideoAttached()
	}
	return handle, nil
}

func (s *sessionService) DetachVideo(ctx context.Context, userID domain.UserID) error {
	if err := s.requireMedia(); err != nil {
		return err
	}

	s.videoMu.Lock()
	defer s.videoMu.Unlock()

	if _, ok := s.videos[userID]; !ok {
		return fmt.Errorf("detach %s: %w", userID, domain.ErrVideoNotAttached)
	}
	if err := s.client.MediaStream().DetachVideo(ctx, userID); err != nil {
		return fmt.Errorf("detach video for %s: %w", userID, err)
	}
	delete(s.videos, userID)
	if s.metrics != nil {
		s.metrics.RecordVideoDetached()
	}
	return nil
}

// HandleVideoStateChange applies a membership event from the transport.
func (s *sessionService) HandleVideoStateChange(ctx context.Context, event domain.VideoStateEvent) error {
	switch event.Action {
	case domain.VideoStart:
		_, err := s.AttachVideo(ctx, event.UserID)
		return err
	case domain.VideoStop:
		err := s.DetachVideo(ctx, event.UserID)
		if errors.Is(err, domain.ErrVideoNotAttached) {
			return nil
		}
		return err
	default:
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown video action %q", event.Action))
	}
}

// ToggleVideo stops or restarts local capture and the local tile with it.
// It reports whether capture is on afterwards.
func (s *sessionService) ToggleVideo(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	session := s.Session()
	if session == nil || s.State() != domain.SessionConnected {
		return false, domain.ErrSessionNotJoined
	}
	stream := s.client.MediaStream()

	if stream.IsCapturingVideo() {
		if err := stream.StopVideo(ctx); err != nil {
			return true, fmt.Errorf("stop video: %w", err)
		}
		if err := s.HandleVideoStateChange(ctx, domain.VideoStateEvent{Action: domain.VideoStop, UserID: session.UserID}); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := stream.StartVideo(ctx); err != nil {
		return false, fmt.Errorf("start video: %w", err)
	}
	if err := s.HandleVideoStateChange(ctx, domain.VideoStateEvent{Action: domain.VideoStart, UserID: session.UserID}); err != nil {
		return true, err
	}
	return true, nil
}

func (s *sessionService) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *sessionService) Session() *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *sessionService) Processor() ports.FrameProcessor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processor
}

func (s *sessionService) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *sessionService) activeChannel() (ports.ControlChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != domain.SessionConnected || s.channel == nil {
		return nil, domain.ErrSessionNotJoined
	}
	return s.channel, nil
}

// requireMedia allows video operations while connected and during teardown.
func (s *sessionService) requireMedia() error {
	switch s.State() {
	case domain.SessionConnected, domain.SessionLeaving:
		return nil
	default:
		return domain.ErrSessionNotJoined
	}
}

func (s *sessionService) attachedUsers() []domain.UserID {
	s.videoMu.Lock()
	defer s.videoMu.Unlock()

	users := make([]domain.UserID, 0, len(s.videos))
	for userID := range s.videos {
		users = append(users, userID)
	}
	return users
}
