package memory

import (
	"image"
	"image/png"
	"io"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
)

var _ ports.FrameSink = (*SnapshotSink)(nil)

// SnapshotSink keeps a copy of the most recent output frame.
type SnapshotSink struct {
	mu    sync.RWMutex
	img   *image.RGBA
	seq   uint64
	at    time.Time
	count uint64
}

func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

func (s *SnapshotSink) Consume(frame *domain.Frame) {
	if s == nil || frame == nil || frame.Image == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bounds := frame.Image.Bounds()
	if s.img == nil || s.img.Rect.Size() != bounds.Size() {
		s.img = image.NewRGBA(image.Rectangle{Max: bounds.Size()})
	}
	if src, ok := frame.Image.(*image.RGBA); ok && src.Rect.Min == (image.Point{}) && src.Stride == s.img.Stride {
		copy(s.img.Pix, src.Pix)
	} else {
		for y := 0; y < bounds.Dy(); y++ {
			for x := 0; x < bounds.Dx(); x++ {
				s.img.Set(x, y, frame.Image.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
	}
	s.seq = frame.Seq
	s.at = frame.Timestamp
	s.count++
}

// Latest returns a copy of the last frame, or nil before the first one.
func (s *SnapshotSink) Latest() (*image.RGBA, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.img == nil {
		return nil, 0
	}
	cp := image.NewRGBA(s.img.Rect)
	copy(cp.Pix, s.img.Pix)
	return cp, s.seq
}

func (s *SnapshotSink) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// WritePNG encodes the last frame. It reports false when no frame has been
// seen yet.
func (s *SnapshotSink) WritePNG(w io.Writer) (bool, error) {
	img, _ := s.Latest()
	if img == nil {
		return false, nil
	}
	return true, png.Encode(w, img)
}
