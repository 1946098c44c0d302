package engine

import "errors"

var (
	// ErrBusy is returned by ForceTick while another tick is in flight.
	// At most one tick runs at a time; a forced tick never queues.
	ErrBusy = errors.New("a tick is already in flight")

	// ErrHalted is returned by operations that need a running engine
	// while it sits in the halted state. Resume clears it.
	ErrHalted = errors.New("engine is halted")

	// ErrNotHalted is returned by Resume when there is nothing to
	// resume.
	ErrNotHalted = errors.New("engine is not halted")

	// ErrAlreadyStarted is returned by Start on a started engine.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStarted is returned by operations that require Start first.
	ErrNotStarted = errors.New("engine not started")
)
