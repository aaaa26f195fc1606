package render

import (
	"context"
	"image"
	"image/color"
	"strings"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/monitoring"
	apperrors "overlaycast/pkg/errors"
	"overlaycast/pkg/tracing"
	"overlaycast/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

var _ ports.OverlayGenerator = (*Generator)(nil)

// TextStyle positions free text on the overlay. Left and Top locate the top
// left corner of the first line box.
type TextStyle struct {
	Left  int
	Top   int
	Size  float64
	Color color.RGBA
}

type Config struct {
	Text    TextStyle
	MaxSide int
}

func DefaultConfig() Config {
	return Config{
		Text: TextStyle{
			Left:  10,
			Top:   10,
			Size:  60,
			Color: color.RGBA{R: 0xff, A: 0xff},
		},
		MaxSide: 8192,
	}
}

// Generator renders text and business card overlays. It keeps only immutable
// font data between calls.
type Generator struct {
	cfg     Config
	fonts   *fontSet
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
}

func NewGenerator(cfg Config, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) (*Generator, error) {
	fonts, err := loadFonts()
	if err != nil {
		return nil, apperrors.NewRenderError("failed to load fonts", err)
	}
	if cfg.Text.Size <= 0 {
		cfg.Text.Size = DefaultConfig().Text.Size
	}
	return &Generator{
		cfg:     cfg,
		fonts:   fonts,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// GenerateTextOverlay draws text on a transparent width x height canvas.
// Empty text yields a blank overlay.
func (g *Generator) GenerateTextOverlay(ctx context.Context, text string, width, height int) (*domain.Bitmap, error) {
	ctx, span := tracing.TraceOverlayGeneration(ctx, string(domain.OverlayText), width, height)
	defer span.End()

	bitmap, err := g.renderText(ctx, text, width, height)
	g.observe(domain.OverlayText, err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return bitmap, nil
}

func (g *Generator) renderText(ctx context.Context, text string, width, height int) (*domain.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas, err := g.newCanvas(width, height)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return domain.NewBitmap(canvas), nil
	}

	face, err := newFace(g.fonts.regular, g.cfg.Text.Size)
	if err != nil {
		return nil, apperrors.NewRenderError("failed to open text face", err)
	}
	defer face.Close()

	metrics := face.Metrics()
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(g.cfg.Text.Color),
		Face: face,
	}
	baseline := fixed.I(g.cfg.Text.Top) + metrics.Ascent
	for _, line := range strings.Split(text, "\n") {
		d.Dot = fixed.Point26_6{X: fixed.I(g.cfg.Text.Left), Y: baseline}
		d.DrawString(line)
		baseline += metrics.Height
	}

	return domain.NewBitmap(canvas), nil
}

// newCanvas allocates a transparent drawing surface.
func (g *Generator) newCanvas(width, height int) (*image.RGBA, error) {
	if err := validation.ValidateDimensions(width, height, g.cfg.MaxSide); err != nil {
		return nil, apperrors.NewRenderError("cannot allocate drawing surface", err).
			WithContext("width", width).
			WithContext("height", height)
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

func (g *Generator) observe(kind domain.OverlayKind, err error) {
	if g.metrics != nil {
		g.metrics.RecordOverlayGenerated(string(kind), err)
	}
	if err != nil {
		g.logger.Warnw("Overlay generation failed",
			"kind", kind,
			"error", err,
		)
	}
}
