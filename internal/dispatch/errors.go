package dispatch

import "errors"

// Sentinel errors for command dispatch.
var (
	// ErrUnknownRole indicates a command targeted a role with no
	// registered adapter.
	ErrUnknownRole = errors.New("no adapter registered for role")

	// ErrQueueFull indicates the role's command queue is at capacity.
	// The caller should surface this as backpressure, not retry blindly.
	ErrQueueFull = errors.New("command queue full")

	// ErrNotRunning indicates a command was submitted before Start or
	// after Stop.
	ErrNotRunning = errors.New("dispatcher not running")

	// ErrCommandTimeout indicates a command attempt exceeded its
	// per-attempt deadline.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrAttemptsExhausted indicates every retry failed.
	ErrAttemptsExhausted = errors.New("command attempts exhausted")
)
