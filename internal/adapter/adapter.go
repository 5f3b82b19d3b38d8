package adapter

import (
	"context"
	"time"
)

// Role identifies the function a device fulfils within a room.
//
// Every room has at most one device per role. Activities are defined in
// terms of roles, never device models, so swapping a Samsung TV for an
// LG one changes configuration only.
type Role string

// Device roles recognised by Roomhub.
const (
	// RoleTV is the room's display device.
	RoleTV Role = "tv"

	// RoleSpeaker is the room's audio output device.
	RoleSpeaker Role = "speaker"

	// RoleMedia is the room's media playback backend.
	RoleMedia Role = "media"
)

// Valid reports whether the role is one of the recognised values.
func (r Role) Valid() bool {
	switch r {
	case RoleTV, RoleSpeaker, RoleMedia:
		return true
	}
	return false
}

// Roles lists every recognised role in a stable order.
func Roles() []Role {
	return []Role{RoleTV, RoleSpeaker, RoleMedia}
}

// MediaOp is a playback operation sent to the media backend.
type MediaOp string

// Media operations.
const (
	MediaPlay  MediaOp = "play"
	MediaPause MediaOp = "pause"
	MediaStop  MediaOp = "stop"
	MediaNext  MediaOp = "next"
	MediaPrev  MediaOp = "prev"
)

// Valid reports whether the operation is one of the recognised values.
func (op MediaOp) Valid() bool {
	switch op {
	case MediaPlay, MediaPause, MediaStop, MediaNext, MediaPrev:
		return true
	}
	return false
}

// Connection describes the observed reachability of a device.
type Connection string

// Connection states.
const (
	// ConnUnknown means the device has not been probed yet.
	ConnUnknown Connection = "unknown"

	// ConnReachable means the last probe succeeded.
	ConnReachable Connection = "reachable"

	// ConnUnreachable means the last probe failed.
	ConnUnreachable Connection = "unreachable"
)

// Status is a point-in-time observation of a device.
//
// Fields beyond Connection are best-effort: an adapter reports what its
// protocol exposes and leaves the rest at zero values. Volume of -1
// means "not reported".
type Status struct {
	// Connection is the probe result. Always set.
	Connection Connection `json:"connection"`

	// Power reports whether the device is on, if the protocol exposes it.
	Power bool `json:"power"`

	// Volume is the current volume 0-100, or -1 if not reported.
	Volume int `json:"volume"`

	// Source is the active input source, if the protocol exposes it.
	Source string `json:"source,omitempty"`

	// Playing reports whether media is actively playing. Only meaningful
	// for the media role.
	Playing bool `json:"playing"`

	// ObservedAt is when the probe completed.
	ObservedAt time.Time `json:"observed_at"`
}

// Reachable is a convenience accessor for Connection == ConnReachable.
func (s Status) Reachable() bool {
	return s.Connection == ConnReachable
}

// OutcomeCode classifies the result of a device operation.
type OutcomeCode string

// Outcome codes.
const (
	// OutcomeSuccess means the device acknowledged the operation.
	OutcomeSuccess OutcomeCode = "success"

	// OutcomeFailure means the operation was attempted and failed.
	// Failures are retryable by the dispatcher.
	OutcomeFailure OutcomeCode = "failure"

	// OutcomeUnsupported means the device cannot perform the operation.
	// Unsupported outcomes are terminal: retrying cannot help.
	OutcomeUnsupported OutcomeCode = "unsupported"
)

// Outcome is the result of a single device operation attempt.
//
// Operations return Outcome rather than a bare error so callers can
// distinguish "failed, retry" from "this device will never do that".
type Outcome struct {
	Code OutcomeCode
	Err  error
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Code: OutcomeSuccess}
}

// Failure returns a failed outcome carrying the underlying error.
func Failure(err error) Outcome {
	return Outcome{Code: OutcomeFailure, Err: err}
}

// Unsupported returns an outcome indicating the device cannot perform
// the requested operation.
func Unsupported() Outcome {
	return Outcome{Code: OutcomeUnsupported, Err: ErrUnsupported}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Code == OutcomeSuccess
}

// Retryable reports whether the dispatcher may retry the operation.
func (o Outcome) Retryable() bool {
	return o.Code == OutcomeFailure
}

// Adapter is the uniform capability surface every device driver
// implements.
//
// The orchestrator and dispatcher speak only this interface; protocol
// details (HTTP probes, TCP sockets, simulated state) live behind it.
// An adapter that does not support an operation returns Unsupported()
// rather than an error, letting the caller treat it as a no-op.
//
// Thread Safety:
//   - Implementations must be safe for concurrent use. The dispatcher
//     serialises commands per role, but PollStatus runs on an
//     independent goroutine.
type Adapter interface {
	// Role returns the role this adapter fulfils.
	Role() Role

	// Power turns the device on or off.
	Power(ctx context.Context, on bool) Outcome

	// SetVolume sets the absolute volume (0-100).
	SetVolume(ctx context.Context, level int) Outcome

	// SelectSource switches the device's input source.
	SelectSource(ctx context.Context, source string) Outcome

	// Media performs a playback operation.
	Media(ctx context.Context, op MediaOp) Outcome

	// PollStatus probes the device and returns its observed status.
	// A probe failure is reported via Status.Connection, not an error;
	// the error return is reserved for adapter-internal faults.
	PollStatus(ctx context.Context) (Status, error)
}
