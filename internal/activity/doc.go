// Package activity implements the room's activity state machine.
//
// A room is always in exactly one activity: off, watch, or listen.
// Transitions are guarded (required devices must be reachable),
// serialised (no two transitions can interleave), and transactional in
// spirit: an accepted transition issues its device commands in
// configured order, commits and persists on full success, and rolls
// the devices back to the previous activity's configuration on
// failure. A rollback that itself fails forces the room to off, the
// safe idle state.
//
// Device loss is handled asymmetrically: losing a device the current
// activity requires forces an immediate best-effort power-down to off,
// while a recovered device only updates status and never auto-resumes
// a prior activity.
//
// On startup the persisted snapshot is treated as a hint: the restored
// activity's devices are probed first, and the room starts at off if
// any of them fails to answer.
package activity
