package alarms

import "errors"

var (
	// ErrUnknownChannel indicates a recipient bound to an unconfigured channel.
	ErrUnknownChannel = errors.New("alarm: unknown channel")
	// ErrSuppressed indicates a delivery skipped by cooldown or dedupe rules.
	ErrSuppressed = errors.New("alarm: notification suppressed")
)
