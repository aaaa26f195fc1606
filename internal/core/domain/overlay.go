package domain

import (
	"fmt"
	"image"
)

// Bitmap is an immutable overlay raster with alpha. Once handed to a control
// channel the producer must not touch the backing pixels again.
type Bitmap struct {
	img *image.RGBA
}

// NewBitmap takes ownership of img.
func NewBitmap(img *image.RGBA) *Bitmap {
	return &Bitmap{img: img}
}

func (b *Bitmap) Width() int  { return b.img.Rect.Dx() }
func (b *Bitmap) Height() int { return b.img.Rect.Dy() }

func (b *Bitmap) Bounds() image.Rectangle { return b.img.Rect }

// Image exposes the pixels for drawing. Callers treat it as read-only.
func (b *Bitmap) Image() image.Image { return b.img }

type LayoutKind string

const (
	LayoutCenteredOverlay LayoutKind = "centered-overlay"
	LayoutBottomBar       LayoutKind = "bottom-bar"
)

// LayoutPolicy decides how an overlay is placed on the output surface.
// Offset and Opacity only apply to LayoutCenteredOverlay.
type LayoutPolicy struct {
	Kind    LayoutKind
	Offset  image.Point
	Opacity float64
}

func ParseLayoutKind(s string) (LayoutKind, error) {
	switch LayoutKind(s) {
	case LayoutCenteredOverlay, LayoutBottomBar:
		return LayoutKind(s), nil
	default:
		return "", fmt.Errorf("unknown layout policy %q", s)
	}
}

// DefaultLayout returns the stock parameters for kind.
func DefaultLayout(kind LayoutKind) LayoutPolicy {
	if kind == LayoutBottomBar {
		return LayoutPolicy{Kind: LayoutBottomBar, Opacity: 1}
	}
	return LayoutPolicy{Kind: LayoutCenteredOverlay, Opacity: 0.5}
}

type OverlayKind string

const (
	OverlayText OverlayKind = "text"
	OverlayCard OverlayKind = "card"
)

// CardOptions describes a business-card overlay.
type CardOptions struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Email       string `json:"email,omitempty"`
	FrameWidth  int    `json:"frame_width,omitempty"`
	FrameHeight int    `json:"frame_height,omitempty"`
	CardWidth   int    `json:"card_width,omitempty"`
	CardHeight  int    `json:"card_height,omitempty"`
	BrandColor  string `json:"brand_color,omitempty"`
	TextColor   string `json:"text_color,omitempty"`
}

const (
	DefaultFrameWidth  = 1280
	DefaultFrameHeight = 720
	DefaultCardHeight  = 280
	DefaultBrandColor  = "#3b82f6"
	DefaultTextColor   = "#ffffff"
)

// WithDefaults fills zero-valued layout and color fields.
func (o CardOptions) WithDefaults() CardOptions {
	if o.FrameWidth == 0 {
		o.FrameWidth = DefaultFrameWidth
	}
	if o.FrameHeight == 0 {
		o.FrameHeight = DefaultFrameHeight
	}
	if o.CardWidth == 0 {
		o.CardWidth = o.FrameWidth
	}
	if o.CardHeight == 0 {
		o.CardHeight = DefaultCardHeight
	}
	if o.BrandColor == "" {
		o.BrandColor = DefaultBrandColor
	}
	if o.TextColor == "" {
		o.TextColor = DefaultTextColor
	}
	return o
}

// OverlayRequest asks for an overlay to be generated and pushed.
type OverlayRequest struct {
	Kind   OverlayKind  `json:"kind"`
	Text   string       `json:"text,omitempty"`
	Width  int          `json:"width,omitempty"`
	Height int          `json:"height,omitempty"`
	Card   *CardOptions `json:"card,omitempty"`
}
