package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"overlaycast/internal/core/domain"

	"golang.org/x/image/draw"
)

// NewLayoutPolicy builds a policy from its configured name. Opacity applies
// to centered-overlay only; bottom-bar is always opaque.
func NewLayoutPolicy(name string, offset image.Point, opacity float64) (domain.LayoutPolicy, error) {
	kind, err := domain.ParseLayoutKind(name)
	if err != nil {
		return domain.LayoutPolicy{}, err
	}
	policy := domain.DefaultLayout(kind)
	if kind == domain.LayoutCenteredOverlay {
		if opacity < 0 || opacity > 1 {
			return domain.LayoutPolicy{}, fmt.Errorf("opacity %v outside [0, 1]", opacity)
		}
		policy.Offset = offset
		policy.Opacity = opacity
	}
	return policy, nil
}

// Placement is where an overlay of the given bounds lands on surface.
func Placement(policy domain.LayoutPolicy, surface, overlay image.Rectangle) image.Rectangle {
	switch policy.Kind {
	case domain.LayoutBottomBar:
		w, h := surface.Dx(), surface.Dy()
		if overlay.Dx() == 0 {
			return image.Rectangle{}
		}
		scale := float64(w) / float64(overlay.Dx())
		dh := int(math.Round(float64(overlay.Dy()) * scale))
		return image.Rect(surface.Min.X, surface.Min.Y+h-dh, surface.Min.X+w, surface.Min.Y+h)
	default:
		return image.Rectangle{Max: overlay.Size()}.Add(surface.Min).Add(policy.Offset)
	}
}

// blender draws an overlay according to a policy. It keeps its opacity mask
// so the frame path does not allocate one per frame.
type blender struct {
	policy domain.LayoutPolicy
	mask   image.Image
}

func newBlender(policy domain.LayoutPolicy) blender {
	b := blender{policy: policy}
	if policy.Kind == domain.LayoutCenteredOverlay && policy.Opacity < 1 {
		b.mask = image.NewUniform(color.Alpha{A: uint8(math.Round(policy.Opacity * 0xff))})
	}
	return b
}

func (b blender) blend(dst *image.RGBA, overlay *domain.Bitmap) {
	src := overlay.Image()
	target := Placement(b.policy, dst.Bounds(), overlay.Bounds())
	if target.Empty() {
		return
	}

	switch b.policy.Kind {
	case domain.LayoutBottomBar:
		if target.Size() == overlay.Bounds().Size() {
			draw.Draw(dst, target, src, overlay.Bounds().Min, draw.Over)
			return
		}
		draw.ApproxBiLinear.Scale(dst, target, src, overlay.Bounds(), draw.Over, nil)
	default:
		// Only this draw is translucent; the mask is not shared with the
		// frame draw.
		draw.DrawMask(dst, target, src, overlay.Bounds().Min, b.mask, image.Point{}, draw.Over)
	}
}
