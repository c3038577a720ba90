package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store closed")
	ErrInvalid  = errors.New("invalid record")
)
