package compositor

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/monitoring"
	apperrors "overlaycast/pkg/errors"
	"overlaycast/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

var _ ports.FrameProcessor = (*Processor)(nil)

type state int

const (
	stateUninitialized state = iota
	stateInert
	stateReady
	stateProcessing
)

func (s state) String() string {
	switch s {
	case stateInert:
		return "inert"
	case stateReady:
		return "ready"
	case stateProcessing:
		return "processing"
	default:
		return "uninitialized"
	}
}

// SurfaceAllocator obtains an output surface of the given size.
type SurfaceAllocator func(width, height int) (*image.RGBA, error)

// NewSurface is the default allocator.
func NewSurface(width, height int) (*image.RGBA, error) {
	if err := validation.ValidateDimensions(width, height, 0); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

type Config struct {
	Name   string
	Width  int
	Height int
	Layout domain.LayoutPolicy
}

// Stats are safe to read from any goroutine.
type Stats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	FramesSkipped   uint64 `json:"frames_skipped"`
	OverlayUpdates  uint64 `json:"overlay_updates"`
	IgnoredMessages uint64 `json:"ignored_messages"`
}

type counters struct {
	processed atomic.Uint64
	skipped   atomic.Uint64
	updates   atomic.Uint64
	ignored   atomic.Uint64
}

// Processor composites the current overlay onto every frame. Apart from
// Stats, every method must be called from the pipeline's frame goroutine.
// Overlay replacements arrive over the control channel and are applied at
// the start of ProcessFrame, so a frame never sees two overlays.
type Processor struct {
	cfg      Config
	channel  ports.ControlChannel
	sink     ports.FrameSink
	allocate SurfaceAllocator
	blender  blender

	state   state
	surface *image.RGBA
	overlay *domain.Bitmap
	out     domain.Frame

	counters counters
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger
}

type Option func(*Processor)

func WithSurfaceAllocator(allocate SurfaceAllocator) Option {
	return func(p *Processor) {
		p.allocate = allocate
	}
}

func NewProcessor(
	cfg Config,
	channel ports.ControlChannel,
	sink ports.FrameSink,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
	opts ...Option,
) *Processor {
	p := &Processor{
		cfg:      cfg,
		channel:  channel,
		sink:     sink,
		allocate: NewSurface,
		blender:  newBlender(cfg.Layout),
		metrics:  metrics,
		logger:   logger.With("processor", cfg.Name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Name() string {
	return p.cfg.Name
}

// OnInit acquires the output surface. On failure the processor stays
// attached but inert and the SurfaceError is returned for logging only; a
// later OnInit retries the allocation.
func (p *Processor) OnInit() error {
	switch p.state {
	case stateReady, stateProcessing:
		return nil
	case stateUninitialized:
		p.channel.OnMessage(p.handleControl)
	}

	surface, err := p.allocate(p.cfg.Width, p.cfg.Height)
	if err == nil && surface.Bounds().Size() != image.Pt(p.cfg.Width, p.cfg.Height) {
		err = fmt.Errorf("allocator returned %v surface, want %dx%d", surface.Bounds().Size(), p.cfg.Width, p.cfg.Height)
	}
	if err != nil {
		serr := apperrors.NewSurfaceError("output surface unavailable", err).
			WithContext("width", p.cfg.Width).
			WithContext("height", p.cfg.Height)
		p.state = stateInert
		p.logger.Errorw("Processor is inert, frames will pass through undrawn",
			"error", serr,
		)
		return serr
	}

	p.surface = surface
	p.state = stateReady
	p.logger.Infow("Processor initialized",
		"width", p.cfg.Width,
		"height", p.cfg.Height,
		"layout", p.cfg.Layout.Kind,
	)
	return nil
}

// ProcessFrame draws frame scaled to the surface, blends the overlay and
// hands the result to the sink. It always returns true.
func (p *Processor) ProcessFrame(frame *domain.Frame) bool {
	if p.state == stateUninitialized {
		return true
	}

	p.channel.Dispatch()

	if p.surface == nil || frame == nil || frame.Image == nil {
		p.counters.skipped.Add(1)
		if p.metrics != nil {
			p.metrics.RecordFrameSkipped(p.cfg.Name)
		}
		return true
	}

	start := time.Now()
	p.state = stateProcessing

	src := frame.Image
	dst := p.surface.Bounds()
	if src.Bounds().Size() == dst.Size() {
		draw.Draw(p.surface, dst, src, src.Bounds().Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(p.surface, dst, src, src.Bounds(), draw.Src, nil)
	}

	if p.overlay != nil {
		p.blender.blend(p.surface, p.overlay)
	}

	p.out = domain.Frame{Seq: frame.Seq, Timestamp: frame.Timestamp, Image: p.surface}
	if p.sink != nil {
		p.sink.Consume(&p.out)
	}

	p.state = stateReady
	p.counters.processed.Add(1)
	if p.metrics != nil {
		p.metrics.RecordFrameProcessed(p.cfg.Name, time.Since(start))
	}
	return true
}

// UpdateOverlay replaces the current overlay. The previous one is released.
func (p *Processor) UpdateOverlay(bitmap *domain.Bitmap) {
	p.overlay = bitmap
	p.counters.updates.Add(1)
	if p.metrics != nil {
		p.metrics.RecordOverlayUpdate(p.cfg.Name)
	}
}

func (p *Processor) handleControl(msg domain.ControlMessage) {
	switch msg.Cmd {
	case domain.CmdUpdateWatermarkImage:
		if msg.Image == nil {
			p.logger.Warnw("Ignoring overlay update without image")
			p.counters.ignored.Add(1)
			return
		}
		p.UpdateOverlay(msg.Image)
	default:
		p.counters.ignored.Add(1)
		if p.metrics != nil {
			p.metrics.RecordControlMessageIgnored(msg.Cmd)
		}
	}
}

// OnUninit releases the surface and overlay. Idempotent.
func (p *Processor) OnUninit() {
	if p.state == stateUninitialized {
		return
	}
	p.channel.OnMessage(nil)
	p.surface = nil
	p.overlay = nil
	p.state = stateUninitialized
	p.logger.Infow("Processor uninitialized")
}

func (p *Processor) Stats() Stats {
	return Stats{
		FramesProcessed: p.counters.processed.Load(),
		FramesSkipped:   p.counters.skipped.Load(),
		OverlayUpdates:  p.counters.updates.Load(),
		IgnoredMessages: p.counters.ignored.Load(),
	}
}
