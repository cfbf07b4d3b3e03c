package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("request rejected by exchange")
	ErrInvalidOffer = errors.New("invalid funding offer parameters")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrDecode       = errors.New("malformed message")
	ErrLockHeld     = errors.New("lock already held")
)
