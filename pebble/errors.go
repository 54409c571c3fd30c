package pebble

import "errors"

var (
	ErrClosed = errors.New("pebble: store is closed")
)
