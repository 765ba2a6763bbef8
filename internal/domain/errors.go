package domain

import "errors"

var (
	ErrUnknownRole  = errors.New("unknown participant role")
	ErrNotInRoom    = errors.New("connection not in any room")
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("peer send queue full")
)
