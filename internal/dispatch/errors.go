package dispatch

import "errors"

var (
	// ErrInvalidSpec wraps the validation error of a rejected request spec
	ErrInvalidSpec = errors.New("invalid request spec")
	// ErrCapacityExceeded is returned when outstanding jobs already fill the dispatcher
	ErrCapacityExceeded = errors.New("dispatcher capacity exceeded")
	// ErrShutdown is returned by Submit once Shutdown has started
	ErrShutdown = errors.New("dispatcher is shut down")
	// ErrInvalidConfig is returned by New
	ErrInvalidConfig = errors.New("invalid dispatcher config")
)
