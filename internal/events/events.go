package events

import (
	"encoding/json"
	"time"
)

// Kind classifies an event on the room bus.
type Kind string

// Event kinds published by Roomhub.
const (
	// KindTransitionCommitted is emitted after an activity transition
	// completes and its snapshot has been persisted.
	KindTransitionCommitted Kind = "transition-committed"

	// KindTransitionFailed is emitted when a transition is rolled back
	// or forced off after a step failure.
	KindTransitionFailed Kind = "transition-failed"

	// KindDeviceStatus is emitted when a device's connection state
	// changes.
	KindDeviceStatus Kind = "device-status"

	// KindCommandOutcome is emitted when a dispatched command reaches a
	// terminal result.
	KindCommandOutcome Kind = "command-outcome"

	// KindStateChanged is emitted when room state (volume, source,
	// defaults) changes outside a transition.
	KindStateChanged Kind = "state-changed"

	// KindPersistenceError is emitted when a state snapshot fails to
	// write. The room keeps running; the event is the operator's signal
	// that restart recovery is degraded.
	KindPersistenceError Kind = "persistence-error"
)

// Event is a single entry on the room's ordered event stream.
//
// Seq is assigned by the broadcaster and is strictly monotonic with no
// gaps: a consumer holding cursor N can ask for everything after N and
// detect loss by discontinuity.
type Event struct {
	// Seq is the broadcaster-assigned sequence number, starting at 1.
	Seq uint64 `json:"seq"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Source identifies the component that raised the event
	// (e.g. "activity", "dispatch", "poller").
	Source string `json:"source"`

	// Kind classifies the event.
	Kind Kind `json:"kind"`

	// Payload carries kind-specific data as raw JSON.
	Payload json.RawMessage `json:"payload,omitempty"`
}
