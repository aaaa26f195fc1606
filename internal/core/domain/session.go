package domain

import "time"

type SessionID string
type UserID string

type Session struct {
	ID       SessionID
	Name     string
	UserName string
	UserID   UserID
	Token    string
	JoinedAt time.Time
}

type Participant struct {
	UserID      UserID
	DisplayName string
	VideoOn     bool
}

type VideoAction string

const (
	VideoStart VideoAction = "Start"
	VideoStop  VideoAction = "Stop"
)

// VideoStateEvent is a membership event announcing a participant's video
// starting or stopping.
type VideoStateEvent struct {
	Action VideoAction
	UserID UserID
}

type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionConnecting SessionState = "connecting"
	SessionConnected  SessionState = "connected"
	SessionLeaving    SessionState = "leaving"
)

// JoinRequest carries what is needed to enter a session. When Token is
// empty a credential is issued for SessionName with Role.
type JoinRequest struct {
	SessionName string
	UserName    string
	Role        int
	Token       string
	Overlay     OverlayRequest
}

// VideoHandle identifies a rendered remote or local video tile.
type VideoHandle struct {
	ID         string
	UserID     UserID
	AttachedAt time.Time
}
