package domain

import (
	"image"
	"time"
)

// Frame is one temporal sample delivered by the media pipeline. The image is
// owned by the transport for the duration of a ProcessFrame call and must not
// be retained past it.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
}

func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}
