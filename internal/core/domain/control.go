package domain

// CmdUpdateWatermarkImage replaces the compositor's current overlay.
const CmdUpdateWatermarkImage = "update_watermark_image"

// ControlMessage is a command sent over a control channel. Messages with an
// unknown Cmd are ignored by receivers.
type ControlMessage struct {
	Cmd   string
	Image *Bitmap
}

func NewReplaceOverlay(bitmap *Bitmap) ControlMessage {
	return ControlMessage{Cmd: CmdUpdateWatermarkImage, Image: bitmap}
}
