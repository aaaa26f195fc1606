package control

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"overlaycast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngPayload(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeMessage_ReplaceOverlay(t *testing.T) {
	data := []byte(`{"cmd":"update_watermark_image","image":"` + pngPayload(t, 4, 3) + `"}`)

	msg, err := DecodeMessage(data, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.CmdUpdateWatermarkImage, msg.Cmd)
	require.NotNil(t, msg.Image)
	assert.Equal(t, 4, msg.Image.Width())
	assert.Equal(t, 3, msg.Image.Height())

	r, _, _, a := msg.Image.Image().At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), a)
}

func TestDecodeMessage_UnknownCommandKeepsOnlyCmd(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"cmd":"set_volume","image":"garbage"}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "set_volume", msg.Cmd)
	assert.Nil(t, msg.Image)
}

func TestDecodeMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing cmd", `{"image":"abc"}`},
		{"missing image", `{"cmd":"update_watermark_image"}`},
		{"bad base64", `{"cmd":"update_watermark_image","image":"***"}`},
		{"not a png", `{"cmd":"update_watermark_image","image":"aGVsbG8="}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.data), 0)
			assert.Error(t, err)
		})
	}
}

func TestDecodeMessage_RejectsOversizeImage(t *testing.T) {
	data := []byte(`{"cmd":"update_watermark_image","image":"` + pngPayload(t, 64, 8) + `"}`)

	_, err := DecodeMessage(data, 32)
	assert.Error(t, err)
}

func TestEncodeDecodeMessage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 2))
	img.SetRGBA(4, 1, color.RGBA{B: 0xff, A: 0xff})

	data, err := EncodeMessage(domain.NewReplaceOverlay(domain.NewBitmap(img)))
	require.NoError(t, err)

	msg, err := DecodeMessage(data, 0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 0xff, A: 0xff}, msg.Image.Image().(*image.RGBA).RGBAAt(4, 1))
	assert.Equal(t, color.RGBA{}, msg.Image.Image().(*image.RGBA).RGBAAt(0, 0))
}
