package model

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist or is
	// not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning is returned when a sync is requested for a target
	// that already has a run in flight.
	ErrAlreadyRunning = errors.New("sync already running")

	// ErrInactiveTarget is returned when a sync is requested for a
	// deactivated target.
	ErrInactiveTarget = errors.New("sync target is inactive")
)
