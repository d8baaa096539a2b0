package domain

import "errors"

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrBadGroupID    = errors.New("bad group id")

	ErrNotMember    = errors.New("not a group member")
	ErrCallNotFound = errors.New("call not found")
	ErrNoActiveCall = errors.New("no active call")
	ErrMalformed    = errors.New("malformed message")
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
	ErrRateLimited  = errors.New("rate limited")
	ErrEmptyMessage = errors.New("empty message")
	ErrSuperseded   = errors.New("connection superseded")
)
