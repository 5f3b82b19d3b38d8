package dispatch

import (
	"fmt"

	"github.com/roomhub/roomhub/internal/adapter"
)

// Verb is the operation a command performs on a device.
type Verb string

// Command verbs.
const (
	VerbPower  Verb = "power"
	VerbVolume Verb = "volume"
	VerbSource Verb = "source"
	VerbMedia  Verb = "media"
)

// Command is a single device operation queued for dispatch.
//
// Exactly one of the argument fields is meaningful, selected by Verb:
// On for power, Level for volume, Source for source, MediaOp for media.
type Command struct {
	// Role selects the target adapter.
	Role adapter.Role

	// Verb selects the operation.
	Verb Verb

	// On is the power argument.
	On bool

	// Level is the volume argument (0-100).
	Level int

	// Source is the input source argument.
	Source string

	// MediaOp is the playback argument.
	MediaOp adapter.MediaOp

	// Cause ties the command to what requested it (a transition ID, an
	// API request ID). Commands with different causes are never
	// coalesced even when their effect is identical.
	Cause string
}

// Key returns the command's idempotency key.
//
// Two commands with equal keys have identical effect and provenance,
// so while one is queued or executing, submitting the other attaches
// to the in-flight command instead of dispatching a second device
// operation.
func (c Command) Key() string {
	switch c.Verb {
	case VerbPower:
		return fmt.Sprintf("%s|power|%t|%s", c.Role, c.On, c.Cause)
	case VerbVolume:
		return fmt.Sprintf("%s|volume|%d|%s", c.Role, c.Level, c.Cause)
	case VerbSource:
		return fmt.Sprintf("%s|source|%s|%s", c.Role, c.Source, c.Cause)
	case VerbMedia:
		return fmt.Sprintf("%s|media|%s|%s", c.Role, c.MediaOp, c.Cause)
	default:
		return fmt.Sprintf("%s|%s|%s", c.Role, c.Verb, c.Cause)
	}
}

// Describe returns a short human-readable form for logs and events.
func (c Command) Describe() string {
	switch c.Verb {
	case VerbPower:
		return fmt.Sprintf("%s power=%t", c.Role, c.On)
	case VerbVolume:
		return fmt.Sprintf("%s volume=%d", c.Role, c.Level)
	case VerbSource:
		return fmt.Sprintf("%s source=%s", c.Role, c.Source)
	case VerbMedia:
		return fmt.Sprintf("%s media=%s", c.Role, c.MediaOp)
	default:
		return fmt.Sprintf("%s %s", c.Role, c.Verb)
	}
}

// Result is the terminal outcome of a dispatched command.
type Result struct {
	// Outcome is the final device outcome.
	Outcome adapter.Outcome

	// Attempts is how many attempts were made.
	Attempts int
}

// OK reports whether the command ultimately succeeded.
func (r Result) OK() bool {
	return r.Outcome.OK()
}
