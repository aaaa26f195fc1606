package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ ports.MediaStream = (*Stream)(nil)

// FrameSource produces captured frames. It is only called from the frame
// goroutine.
type FrameSource interface {
	Next() *domain.Frame
}

// Stream is an in-process media pipeline. A single frame goroutine (Run)
// pulls frames from the source at a fixed rate and drives every attached
// processor; attach and detach are marshalled onto that goroutine.
type Stream struct {
	source   FrameSource
	interval time.Duration
	// passthrough receives raw frames while no processor is attached.
	passthrough ports.FrameSink

	cmds    chan func()
	done    chan struct{}
	started atomic.Bool
	running atomic.Bool

	// processors is owned by the frame goroutine.
	processors []ports.FrameProcessor

	capturing atomic.Bool

	tilesMu sync.Mutex
	tiles   map[domain.UserID]*domain.VideoHandle

	logger *zap.SugaredLogger
}

func NewStream(source FrameSource, fps int, passthrough ports.FrameSink, logger *zap.SugaredLogger) *Stream {
	if fps <= 0 {
		fps = 30
	}
	return &Stream{
		source:      source,
		interval:    time.Second / time.Duration(fps),
		passthrough: passthrough,
		cmds:        make(chan func()),
		done:        make(chan struct{}),
		tiles:       make(map[domain.UserID]*domain.VideoHandle),
		logger:      logger,
	}
}

// Run is the frame goroutine. It may be started once and returns when ctx
// ends, after delivering OnUninit to every processor still attached.
func (s *Stream) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("frame loop already started")
	}
	s.running.Store(true)
	defer close(s.done)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("Frame loop started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			for _, p := range s.processors {
				p.OnUninit()
			}
			s.processors = nil
			s.logger.Infow("Frame loop stopped")
			return ctx.Err()

		case cmd := <-s.cmds:
			cmd()

		case <-ticker.C:
			s.tick()
		}
	}
}

// Step captures and processes exactly one frame. It must only be used when
// Run is not active.
func (s *Stream) Step() {
	s.tick()
}

func (s *Stream) tick() {
	if !s.capturing.Load() {
		return
	}
	frame := s.source.Next()
	if len(s.processors) == 0 {
		if s.passthrough != nil {
			s.passthrough.Consume(frame)
		}
		return
	}
	for _, p := range s.processors {
		p.ProcessFrame(frame)
	}
}

func (s *Stream) Running() bool {
	return s.running.Load()
}

// exec runs fn on the frame goroutine and waits for it. When Run is not
// active fn runs inline.
func (s *Stream) exec(ctx context.Context, fn func() error) error {
	if !s.running.Load() {
		return fn()
	}

	errc := make(chan error, 1)
	select {
	case s.cmds <- func() { errc <- fn() }:
	case <-s.done:
		return domain.ErrPipelineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddProcessor attaches p. A processor whose OnInit fails stays attached
// but inert; the failure is logged.
func (s *Stream) AddProcessor(ctx context.Context, p ports.FrameProcessor) error {
	return s.exec(ctx, func() error {
		for _, existing := range s.processors {
			if existing.Name() == p.Name() {
				return fmt.Errorf("%s: %w", p.Name(), domain.ErrProcessorExists)
			}
		}
		if err := p.OnInit(); err != nil {
			s.logger.Errorw("Processor initialization failed",
				"processor", p.Name(),
				"error", err,
			)
		}
		s.processors = append(s.processors, p)
		s.logger.Infow("Processor attached", "processor", p.Name())
		return nil
	})
}

func (s *Stream) RemoveProcessor(ctx context.Context, name string) error {
	return s.exec(ctx, func() error {
		for i, p := range s.processors {
			if p.Name() != name {
				continue
			}
			s.processors = append(s.processors[:i], s.processors[i+1:]...)
			p.OnUninit()
			s.logger.Infow("Processor detached", "processor", name)
			return nil
		}
		return fmt.Errorf("%s: %w", name, domain.ErrProcessorNotFound)
	})
}

func (s *Stream) StartVideo(ctx context.Context) error {
	s.capturing.Store(true)
	return nil
}

func (s *Stream) StopVideo(ctx context.Context) error {
	s.capturing.Store(false)
	return nil
}

func (s *Stream) IsCapturingVideo() bool {
	return s.capturing.Load()
}

func (s *Stream) AttachVideo(ctx context.Context, userID domain.UserID) (*domain.VideoHandle, error) {
	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()

	if handle, ok := s.tiles[userID]; ok {
		return handle, nil
	}
	handle := &domain.VideoHandle{
		ID:         uuid.NewString(),
		UserID:     userID,
		AttachedAt: time.Now(),
	}
	s.tiles[userID] = handle
	s.logger.Debugw("Video tile attached", "user_id", userID, "tile_id", handle.ID)
	return handle, nil
}

func (s *Stream) DetachVideo(ctx context.Context, userID domain.UserID) error {
	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()

	if _, ok := s.tiles[userID]; !ok {
		return fmt.Errorf("%s: %w", userID, domain.ErrVideoNotAttached)
	}
	delete(s.tiles, userID)
	s.logger.Debugw("Video tile detached", "user_id", userID)
	return nil
}

// Tiles lists the attached video tiles.
func (s *Stream) Tiles() []domain.VideoHandle {
	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()

	tiles := make([]domain.VideoHandle, 0, len(s.tiles))
	for _, handle := range s.tiles {
		tiles = append(tiles, *handle)
	}
	return tiles
}
