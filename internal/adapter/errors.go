package adapter

import "errors"

// Sentinel errors for device operations.
//
// These support errors.Is() checks throughout the codebase:
//
//	outcome := dev.Power(ctx, true)
//	if errors.Is(outcome.Err, adapter.ErrUnreachable) {
//	    // device is offline, fail closed
//	}
var (
	// ErrUnreachable indicates the device did not respond to a probe or
	// command within its deadline.
	ErrUnreachable = errors.New("device unreachable")

	// ErrUnsupported indicates the device cannot perform the requested
	// operation. This is terminal: retrying cannot succeed.
	ErrUnsupported = errors.New("operation not supported by device")
)
