package control

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"

	"overlaycast/internal/core/domain"
	"overlaycast/pkg/validation"

	"golang.org/x/image/draw"
)

// WireMessage is the JSON form of a control message. Image carries a base64
// encoded PNG.
type WireMessage struct {
	Cmd   string `json:"cmd"`
	Image string `json:"image,omitempty"`
}

// EncodeMessage renders msg in wire form.
func EncodeMessage(msg domain.ControlMessage) ([]byte, error) {
	wire := WireMessage{Cmd: msg.Cmd}
	if msg.Image != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, msg.Image.Image()); err != nil {
			return nil, fmt.Errorf("encode overlay image: %w", err)
		}
		wire.Image = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return json.Marshal(wire)
}

// DecodeMessage parses a wire message. Commands other than
// update_watermark_image are returned with only Cmd set so receivers can
// ignore them. maxSide bounds decoded image dimensions; 0 disables the bound.
func DecodeMessage(data []byte, maxSide int) (domain.ControlMessage, error) {
	var wire WireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return domain.ControlMessage{}, fmt.Errorf("invalid control message: %w", err)
	}
	if wire.Cmd == "" {
		return domain.ControlMessage{}, fmt.Errorf("cmd is required")
	}
	if wire.Cmd != domain.CmdUpdateWatermarkImage {
		return domain.ControlMessage{Cmd: wire.Cmd}, nil
	}
	if wire.Image == "" {
		return domain.ControlMessage{}, fmt.Errorf("image is required for %s", wire.Cmd)
	}

	raw, err := base64.StdEncoding.DecodeString(wire.Image)
	if err != nil {
		return domain.ControlMessage{}, fmt.Errorf("image is not valid base64: %w", err)
	}
	bitmap, err := DecodeBitmap(raw, maxSide)
	if err != nil {
		return domain.ControlMessage{}, err
	}
	return domain.NewReplaceOverlay(bitmap), nil
}

// DecodeBitmap decodes a PNG into an overlay bitmap.
func DecodeBitmap(raw []byte, maxSide int) (*domain.Bitmap, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("image is not a PNG: %w", err)
	}
	if err := validation.ValidateDimensions(cfg.Width, cfg.Height, maxSide); err != nil {
		return nil, err
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode PNG: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return domain.NewBitmap(rgba), nil
	}

	rgba := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return domain.NewBitmap(rgba), nil
}
