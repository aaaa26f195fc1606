package domain

import "errors"

var (
	ErrSessionNotJoined  = errors.New("session not joined")
	ErrSessionBusy       = errors.New("session is connecting or leaving")
	ErrAlreadyJoined     = errors.New("session already joined")
	ErrProcessorExists   = errors.New("processor already attached")
	ErrProcessorNotFound = errors.New("processor not found")
	ErrChannelClosed     = errors.New("control channel closed")
	ErrVideoNotAttached  = errors.New("video not attached")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("credential expired")
	ErrPipelineStopped   = errors.New("media pipeline stopped")
)
