package render

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"overlaycast/internal/core/domain"
	apperrors "overlaycast/pkg/errors"
	"overlaycast/pkg/tracing"
	"overlaycast/pkg/validation"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Card layout constants, in pixels.
const (
	cardMarginLeft = 40
	cardLineGap    = 12

	nameFontSize    = 48
	titleFontSize   = 28
	companyFontSize = 28
	emailFontSize   = 22

	// share of the dark base mixed into the brand color at the panel bottom
	panelShade = 0.35
)

var panelBase = color.RGBA{R: 0x0f, G: 0x17, B: 0x2a, A: 0xff}

type cardLine struct {
	text  string
	font  *opentype.Font
	size  float64
	color color.RGBA
}

// GenerateCardOverlay renders a business card panel anchored to the bottom
// of a frame-sized transparent canvas. The panel height is fixed; content
// that does not fit is clipped.
func (g *Generator) GenerateCardOverlay(ctx context.Context, opts domain.CardOptions) (*domain.Bitmap, error) {
	opts = opts.WithDefaults()

	ctx, span := tracing.TraceOverlayGeneration(ctx, string(domain.OverlayCard), opts.FrameWidth, opts.FrameHeight)
	defer span.End()

	bitmap, err := g.renderCard(ctx, opts)
	g.observe(domain.OverlayCard, err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return bitmap, nil
}

func (g *Generator) renderCard(ctx context.Context, opts domain.CardOptions) (*domain.Bitmap, error) {
	if err := validateCard(opts); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	brand, err := ParseHexColor(opts.BrandColor)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("brand_color: %v", err))
	}
	textColor, err := ParseHexColor(opts.TextColor)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("text_color: %v", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas, err := g.newCanvas(opts.FrameWidth, opts.FrameHeight)
	if err != nil {
		return nil, err
	}

	panel := cardPanel(opts)
	paintGradient(canvas, panel, mix(brand, panelBase, panelShade))

	lines := []cardLine{
		{text: opts.Name, font: g.fonts.bold, size: nameFontSize, color: textColor},
		{text: opts.Title, font: g.fonts.regular, size: titleFontSize, color: textColor},
		{text: opts.Company, font: g.fonts.regular, size: companyFontSize, color: brand},
	}
	if opts.Email != "" {
		lines = append(lines, cardLine{text: opts.Email, font: g.fonts.regular, size: emailFontSize, color: textColor})
	}

	// Text is clipped to the panel.
	dst := canvas.SubImage(panel).(*image.RGBA)
	cursor := panel.Min.Y + cardLineGap
	for _, line := range lines {
		height, err := drawLine(dst, line, panel.Min.X+cardMarginLeft, cursor)
		if err != nil {
			return nil, apperrors.NewRenderError("failed to draw card text", err)
		}
		cursor += height + cardLineGap
	}

	return domain.NewBitmap(canvas), nil
}

func validateCard(opts domain.CardOptions) error {
	if err := validation.ValidateNonEmptyString(opts.Name, "name"); err != nil {
		return err
	}
	if err := validation.ValidateNonEmptyString(opts.Title, "title"); err != nil {
		return err
	}
	if err := validation.ValidateNonEmptyString(opts.Company, "company"); err != nil {
		return err
	}
	if opts.Email != "" {
		if err := validation.ValidateEmail(opts.Email); err != nil {
			return err
		}
	}
	if opts.CardWidth <= 0 || opts.CardHeight <= 0 {
		return fmt.Errorf("card dimensions must be positive")
	}
	return nil
}

// cardPanel is the bottom CardHeight rows, CardWidth wide and centred.
// Both are clamped to the frame.
func cardPanel(opts domain.CardOptions) image.Rectangle {
	w := min(opts.CardWidth, opts.FrameWidth)
	h := min(opts.CardHeight, opts.FrameHeight)
	x := (opts.FrameWidth - w) / 2
	return image.Rect(x, opts.FrameHeight-h, x+w, opts.FrameHeight)
}

// paintGradient fills r top to bottom from fully transparent to opaque c.
func paintGradient(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	rows := r.Dy()
	for i := 0; i < rows; i++ {
		alpha := uint8(0xff)
		if rows > 1 {
			alpha = uint8(i * 0xff / (rows - 1))
		}
		row := image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1)
		draw.Draw(dst, row, image.NewUniform(premultiply(c, alpha)), image.Point{}, draw.Src)
	}
}

// drawLine draws one line with its box top at y and returns the line height.
func drawLine(dst *image.RGBA, line cardLine, x, y int) (int, error) {
	face, err := newFace(line.font, line.size)
	if err != nil {
		return 0, err
	}
	defer face.Close()

	metrics := face.Metrics()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(line.color),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y) + metrics.Ascent},
	}
	d.DrawString(line.text)
	return metrics.Height.Ceil(), nil
}
