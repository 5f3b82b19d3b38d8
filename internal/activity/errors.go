package activity

import "errors"

// Sentinel errors for activity transitions.
//
// These support errors.Is() checks at the API boundary:
//
//	err := orch.SetActivity(ctx, activity.ActivityWatch, cause)
//	if errors.Is(err, activity.ErrInvalidTransition) {
//	    // reject with 409, no side effects occurred
//	}
var (
	// ErrInvalidTransition indicates a guard rejected the transition:
	// a required device is unreachable, the room is already in the
	// requested activity, or the target is not a recognised activity.
	// No device commands were issued.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTransitionFailed indicates an accepted transition failed
	// mid-flight and was rolled back; the activity remains at its
	// previous committed value.
	ErrTransitionFailed = errors.New("transition failed")

	// ErrNotReady indicates the orchestrator has not completed startup
	// revalidation yet.
	ErrNotReady = errors.New("orchestrator not ready")
)
