package memory

import (
	"image"
	"image/color"
	"time"

	"overlaycast/internal/core/domain"
)

// SyntheticSource renders a moving test pattern into a reused buffer.
type SyntheticSource struct {
	img *image.RGBA
	seq uint64
}

func NewSyntheticSource(width, height int) *SyntheticSource {
	return &SyntheticSource{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

var bars = []color.RGBA{
	{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff},
	{R: 0xc0, G: 0xc0, A: 0xff},
	{G: 0xc0, B: 0xc0, A: 0xff},
	{G: 0xc0, A: 0xff},
	{R: 0xc0, B: 0xc0, A: 0xff},
	{R: 0xc0, A: 0xff},
	{B: 0xc0, A: 0xff},
}

func (s *SyntheticSource) Next() *domain.Frame {
	s.seq++
	w, h := s.img.Rect.Dx(), s.img.Rect.Dy()
	shift := int(s.seq % uint64(max(w, 1)))

	for x := 0; x < w; x++ {
		c := bars[((x+shift)%w)*len(bars)/w]
		for y := 0; y < h; y++ {
			i := s.img.PixOffset(x, y)
			s.img.Pix[i], s.img.Pix[i+1], s.img.Pix[i+2], s.img.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}

	return &domain.Frame{Seq: s.seq, Timestamp: time.Now(), Image: s.img}
}
