package devices

import "errors"

var (
	// ErrInvalidInput indicates a missing or malformed required field.
	ErrInvalidInput = errors.New("device: invalid input")
	// ErrNotFound indicates an unknown device id.
	ErrNotFound = errors.New("device: not found")
)
