package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/dispatch"
	"github.com/roomhub/roomhub/internal/events"
	"github.com/roomhub/roomhub/internal/infrastructure/logging"
	"github.com/roomhub/roomhub/internal/store"
)

// VolumeStep is the increment applied by a single volume up/down
// request.
const VolumeStep = 2

// deviceLostTimeout bounds the best-effort power-down issued when a
// required device is lost.
const deviceLostTimeout = 30 * time.Second

// Commander is the slice of the dispatcher the orchestrator needs.
type Commander interface {
	SubmitWait(ctx context.Context, cmd dispatch.Command) (dispatch.Result, error)
}

// Publisher is the slice of the event broadcaster the orchestrator
// needs.
type Publisher interface {
	Publish(source string, kind events.Kind, payload any) events.Event
}

// transitionPayload is the body of transition-committed and
// transition-failed events.
type transitionPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Cause  string `json:"cause,omitempty"`
	Reason string `json:"reason,omitempty"`
	Role   string `json:"role,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusPayload is the body of device-status events.
type statusPayload struct {
	Role       string `json:"role"`
	Connection string `json:"connection"`
	Power      bool   `json:"power"`
	Volume     int    `json:"volume"`
	Source     string `json:"source,omitempty"`
	Playing    bool   `json:"playing"`
}

// DefaultsPatch is a partial update to the room defaults. Nil fields
// are left unchanged.
type DefaultsPatch struct {
	WatchVolume   *int    `json:"watch_volume,omitempty"`
	ListenVolume  *int    `json:"listen_volume,omitempty"`
	ListenStation *string `json:"listen_station,omitempty"`
}

// Orchestrator is the room's activity state machine.
//
// All transitions, whether requested over the API or forced by device
// loss, funnel through a single serialisation point, so the current
// activity can never be mutated by two paths at once. Status reads use
// a separate lock and are never blocked by an in-flight transition.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Orchestrator struct {
	roomID   string
	defs     Definitions
	cmds     Commander
	snaps    *store.Store
	pub      Publisher
	logger   *logging.Logger
	adapters map[adapter.Role]adapter.Adapter

	// transMu is the transition serialisation point. Held for the full
	// duration of a transition, including device commands.
	transMu sync.Mutex

	// mu guards the state fields below. Never held across a device
	// command, so reads stay fast during transitions.
	mu            sync.RWMutex
	current       Activity
	volume        int
	source        string
	defaults      store.Defaults
	devices       map[adapter.Role]DeviceState
	ready         bool
	transitioning bool
}

// New creates an orchestrator.
//
// Parameters:
//   - roomID: Installation identifier, namespaces the snapshot
//   - defs: Per-activity device orchestration definitions
//   - defaults: Initial room defaults (superseded by a snapshot's)
//   - adapters: Role-keyed adapters, used only for startup revalidation
//   - cmds: Dispatcher for device commands
//   - snaps: Snapshot store
//   - pub: Event publisher
//   - logger: Structured logger
func New(
	roomID string,
	defs Definitions,
	defaults store.Defaults,
	adapters map[adapter.Role]adapter.Adapter,
	cmds Commander,
	snaps *store.Store,
	pub Publisher,
	logger *logging.Logger,
) *Orchestrator {
	devices := make(map[adapter.Role]DeviceState, len(adapters))
	for role := range adapters {
		devices[role] = DeviceState{Connection: adapter.ConnUnknown, Volume: -1}
	}
	return &Orchestrator{
		roomID:   roomID,
		defs:     defs,
		cmds:     cmds,
		snaps:    snaps,
		pub:      pub,
		logger:   logger.With("component", "activity"),
		adapters: adapters,
		current:  ActivityOff,
		defaults: defaults,
		devices:  devices,
	}
}

// Start restores the room from its snapshot and revalidates it
// against live devices.
//
// The snapshot is a hint, not truth: the orchestrator probes every
// device the restored activity requires, and forces OFF if any is
// unreachable rather than resuming blindly. A missing snapshot starts
// the room at OFF.
func (o *Orchestrator) Start(ctx context.Context) error {
	snap, err := o.snaps.Load(o.roomID)
	if err != nil {
		o.logger.Error("snapshot load failed, starting at off", "error", err)
		o.publishPersistenceError(err)
		snap = nil
	}

	restored := ActivityOff
	if snap != nil {
		o.mu.Lock()
		o.volume = snap.Volume
		o.source = snap.Source
		if snap.Defaults != (store.Defaults{}) {
			o.defaults = snap.Defaults
		}
		o.mu.Unlock()

		if a := Activity(snap.Activity); a.Valid() {
			restored = a
		}
	}

	if restored != ActivityOff {
		restored = o.revalidate(ctx, restored)
	}

	o.mu.Lock()
	o.current = restored
	o.ready = true
	o.mu.Unlock()

	o.logger.Info("orchestrator started", "room", o.roomID, "activity", restored)
	return nil
}

// revalidate probes the devices the restored activity requires and
// returns the activity to trust: the restored one if every required
// device answered, OFF otherwise.
func (o *Orchestrator) revalidate(ctx context.Context, restored Activity) Activity {
	for _, role := range restored.Requires() {
		a, ok := o.adapters[role]
		if !ok {
			o.forceOffOnStartup(restored, role, "no adapter configured")
			return ActivityOff
		}
		status, err := a.PollStatus(ctx)
		if err == nil {
			o.applyStatus(role, status)
		}
		if err != nil || !status.Reachable() {
			o.forceOffOnStartup(restored, role, "device unreachable at startup")
			return ActivityOff
		}
	}
	return restored
}

// forceOffOnStartup records and reports a failed startup revalidation.
func (o *Orchestrator) forceOffOnStartup(restored Activity, role adapter.Role, reason string) {
	o.logger.Warn("startup revalidation failed, forcing off",
		"restored", restored, "role", role, "reason", reason)
	o.persist(ActivityOff)
	o.pub.Publish("activity", events.KindTransitionFailed, transitionPayload{
		From:   string(restored),
		To:     string(ActivityOff),
		Reason: "startup revalidation: " + reason,
		Role:   string(role),
	})
}

// State returns a consistent copy of the orchestrator's current view.
// Never blocked by an in-flight transition.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()

	devices := make(map[adapter.Role]DeviceState, len(o.devices))
	for role, ds := range o.devices {
		devices[role] = ds
	}
	return State{
		Activity:      o.current,
		Volume:        o.volume,
		Source:        o.source,
		Defaults:      o.defaults,
		Devices:       devices,
		Transitioning: o.transitioning,
		Ready:         o.ready,
	}
}

// Ready reports whether startup revalidation has completed.
func (o *Orchestrator) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ready
}

// UnreachableRoles returns the roles whose last observation was not
// reachable.
func (o *Orchestrator) UnreachableRoles() []adapter.Role {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var roles []adapter.Role
	for _, role := range adapter.Roles() {
		if ds, ok := o.devices[role]; ok && ds.Connection != adapter.ConnReachable {
			roles = append(roles, role)
		}
	}
	return roles
}

// Defaults returns the current room defaults.
func (o *Orchestrator) Defaults() store.Defaults {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.defaults
}

// UpdateDefaults applies a partial update to the room defaults,
// persists it, and emits a state-changed event.
func (o *Orchestrator) UpdateDefaults(patch DefaultsPatch) (store.Defaults, error) {
	if patch.WatchVolume != nil && (*patch.WatchVolume < 0 || *patch.WatchVolume > 100) {
		return store.Defaults{}, fmt.Errorf("%w: watch volume %d out of range 0-100", ErrInvalidTransition, *patch.WatchVolume)
	}
	if patch.ListenVolume != nil && (*patch.ListenVolume < 0 || *patch.ListenVolume > 100) {
		return store.Defaults{}, fmt.Errorf("%w: listen volume %d out of range 0-100", ErrInvalidTransition, *patch.ListenVolume)
	}

	o.mu.Lock()
	if patch.WatchVolume != nil {
		o.defaults.WatchVolume = *patch.WatchVolume
	}
	if patch.ListenVolume != nil {
		o.defaults.ListenVolume = *patch.ListenVolume
	}
	if patch.ListenStation != nil {
		o.defaults.ListenStation = *patch.ListenStation
	}
	defaults := o.defaults
	current := o.current
	o.mu.Unlock()

	o.persist(current)
	o.pub.Publish("activity", events.KindStateChanged, map[string]any{
		"defaults": defaults,
	})
	return defaults, nil
}

// SetActivity attempts a transition to the target activity.
//
// Guards are evaluated synchronously: an unrecognised target, a
// request for the current activity, or an unreachable required device
// rejects with ErrInvalidTransition before any device command is
// issued. An accepted transition executes its device commands in
// order, committing on full success and rolling back to the previous
// configuration on failure.
//
// Parameters:
//   - ctx: Context bounding the whole transition
//   - target: Activity to enter
//   - cause: Request identifier tying commands and events to this call
//
// Returns:
//   - error: nil on commit; ErrInvalidTransition if a guard rejected;
//     ErrTransitionFailed if execution failed and was rolled back
func (o *Orchestrator) SetActivity(ctx context.Context, target Activity, cause string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown activity %q", ErrInvalidTransition, target)
	}

	o.transMu.Lock()
	defer o.transMu.Unlock()

	o.mu.RLock()
	ready := o.ready
	from := o.current
	o.mu.RUnlock()

	if !ready {
		return ErrNotReady
	}
	if target == from {
		return fmt.Errorf("%w: already in requested state %q", ErrInvalidTransition, target)
	}
	for _, role := range target.Requires() {
		if !o.roleReachable(role) {
			return fmt.Errorf("%w: device %s unreachable", ErrInvalidTransition, role)
		}
	}

	if cause == "" {
		cause = uuid.New().String()
	}

	o.setTransitioning(true)
	defer o.setTransitioning(false)

	plan := buildPlan(o.defs, from, target, o.Defaults(), cause)
	o.logger.Info("transition accepted", "from", from, "to", target, "cause", cause, "steps", len(plan))

	for i, st := range plan {
		res, err := o.cmds.SubmitWait(ctx, st.cmd)
		if err != nil {
			return o.rollback(ctx, from, target, cause, plan[:i], st.cmd, err)
		}
		if res.Outcome.Code == adapter.OutcomeUnsupported {
			// Treated as a successful no-op step.
			o.logger.Debug("step unsupported, skipping", "command", st.cmd.Describe())
			continue
		}
		if !res.OK() {
			return o.rollback(ctx, from, target, cause, plan[:i], st.cmd, res.Outcome.Err)
		}
	}

	o.commit(from, target, cause)
	return nil
}

// commit records the new activity, persists the snapshot, and emits
// transition-committed. Persistence runs before the event so an
// observer that sees the commit can rely on durability having been
// attempted.
func (o *Orchestrator) commit(from, target Activity, cause string) {
	o.mu.Lock()
	o.current = target
	if target != ActivityOff {
		def := o.defs[target]
		o.volume = entryVolume(target, def, o.defaults)
		if src, ok := def.Sources[adapter.RoleSpeaker]; ok {
			o.source = src
		}
	}
	o.mu.Unlock()

	o.persist(target)
	o.pub.Publish("activity", events.KindTransitionCommitted, transitionPayload{
		From:  string(from),
		To:    string(target),
		Cause: cause,
	})
	o.logger.Info("transition committed", "from", from, "to", target, "cause", cause)
}

// rollback restores the previous activity's device configuration after
// a failed step, best-effort. If the restore itself fails, the room
// fails closed: activity is forced to OFF and the unrestorable device
// is marked unreachable rather than left in an ambiguous state.
func (o *Orchestrator) rollback(ctx context.Context, from, target Activity, cause string, completed []step, failedCmd dispatch.Command, failErr error) error {
	o.logger.Warn("transition step failed, rolling back",
		"from", from, "to", target,
		"failed_command", failedCmd.Describe(), "error", failErr)

	for i := len(completed) - 1; i >= 0; i-- {
		for _, inv := range completed[i].inverse {
			res, err := o.cmds.SubmitWait(ctx, inv)
			if err != nil || res.Outcome.Code == adapter.OutcomeFailure {
				o.failClosed(from, target, inv.Role, cause, failErr)
				return fmt.Errorf("%w: %s failed (%v), rollback failed on %s",
					ErrTransitionFailed, failedCmd.Describe(), failErr, inv.Role)
			}
		}
	}

	o.pub.Publish("activity", events.KindTransitionFailed, transitionPayload{
		From:   string(from),
		To:     string(target),
		Cause:  cause,
		Reason: "rolled back",
		Role:   string(failedCmd.Role),
		Error:  errString(failErr),
	})
	return fmt.Errorf("%w: %s: %v", ErrTransitionFailed, failedCmd.Describe(), failErr)
}

// failClosed forces the room to OFF after a rollback failure and marks
// the unrestorable device unreachable.
func (o *Orchestrator) failClosed(from, target Activity, role adapter.Role, cause string, failErr error) {
	o.logger.Error("rollback failed, failing closed to off", "role", role)

	o.mu.Lock()
	o.current = ActivityOff
	if ds, ok := o.devices[role]; ok {
		ds.Connection = adapter.ConnUnreachable
		o.devices[role] = ds
	}
	o.mu.Unlock()

	o.persist(ActivityOff)
	o.pub.Publish("activity", events.KindTransitionFailed, transitionPayload{
		From:   string(from),
		To:     string(ActivityOff),
		Cause:  cause,
		Reason: "rollback failed, failed closed",
		Role:   string(role),
		Error:  errString(failErr),
	})
}

// SetVolume sets the room volume, routed to the speaker.
// The committed value is persisted and emitted as state-changed.
func (o *Orchestrator) SetVolume(ctx context.Context, level int, cause string) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: volume %d out of range 0-100", ErrInvalidTransition, level)
	}
	if !o.roleReachable(adapter.RoleSpeaker) {
		return fmt.Errorf("%w: device speaker unreachable", ErrInvalidTransition)
	}

	res, err := o.cmds.SubmitWait(ctx, dispatch.Command{
		Role:  adapter.RoleSpeaker,
		Verb:  dispatch.VerbVolume,
		Level: level,
		Cause: cause,
	})
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("set volume: %w", res.Outcome.Err)
	}

	o.mu.Lock()
	o.volume = level
	current := o.current
	o.mu.Unlock()

	o.persist(current)
	o.pub.Publish("activity", events.KindStateChanged, map[string]any{"volume": level})
	return nil
}

// AdjustVolume nudges the room volume by delta, clamped to 0-100.
// API volume up/down requests pass ±VolumeStep.
//
// Returns:
//   - int: The resulting volume
//   - error: As for SetVolume
func (o *Orchestrator) AdjustVolume(ctx context.Context, delta int, cause string) (int, error) {
	o.mu.RLock()
	target := o.volume + delta
	o.mu.RUnlock()

	if target < 0 {
		target = 0
	}
	if target > 100 {
		target = 100
	}
	if err := o.SetVolume(ctx, target, cause); err != nil {
		return 0, err
	}
	return target, nil
}

// SelectSource switches the speaker input source and persists the
// committed value.
func (o *Orchestrator) SelectSource(ctx context.Context, source, cause string) error {
	if !o.roleReachable(adapter.RoleSpeaker) {
		return fmt.Errorf("%w: device speaker unreachable", ErrInvalidTransition)
	}

	res, err := o.cmds.SubmitWait(ctx, dispatch.Command{
		Role:   adapter.RoleSpeaker,
		Verb:   dispatch.VerbSource,
		Source: source,
		Cause:  cause,
	})
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("select source: %w", res.Outcome.Err)
	}

	o.mu.Lock()
	o.source = source
	current := o.current
	o.mu.Unlock()

	o.persist(current)
	o.pub.Publish("activity", events.KindStateChanged, map[string]any{"source": source})
	return nil
}

// Media performs a playback operation on the media backend.
//
// Transport control is only meaningful while the media backend is part
// of the active chain, so requests outside a listening session are
// rejected as invalid rather than sent to an idle device.
func (o *Orchestrator) Media(ctx context.Context, op adapter.MediaOp, cause string) error {
	if !op.Valid() {
		return fmt.Errorf("%w: unknown media operation %q", ErrInvalidTransition, op)
	}

	o.mu.RLock()
	current := o.current
	o.mu.RUnlock()

	if current != ActivityListen {
		return fmt.Errorf("%w: media transport requires a listening session (current activity %q)", ErrInvalidTransition, current)
	}
	if !o.roleReachable(adapter.RoleMedia) {
		return fmt.Errorf("%w: device media unreachable", ErrInvalidTransition)
	}

	res, err := o.cmds.SubmitWait(ctx, dispatch.Command{
		Role:    adapter.RoleMedia,
		Verb:    dispatch.VerbMedia,
		MediaOp: op,
		Cause:   cause,
	})
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("media %s: %w", op, res.Outcome.Err)
	}
	return nil
}

// HandleStatus is the poller callback. It updates the device's
// last-known state, publishes device-status on a connection edge, and
// forces the room OFF when a device required by the current activity
// is lost.
//
// The forced power-down runs on a separate goroutine so a poll result
// never blocks behind an in-flight transition.
func (o *Orchestrator) HandleStatus(role adapter.Role, status adapter.Status, changed bool) {
	o.applyStatus(role, status)

	if !changed {
		return
	}

	o.pub.Publish("poller", events.KindDeviceStatus, statusPayload{
		Role:       string(role),
		Connection: string(status.Connection),
		Power:      status.Power,
		Volume:     status.Volume,
		Source:     status.Source,
		Playing:    status.Playing,
	})

	if status.Connection != adapter.ConnUnreachable {
		// Recovery only updates status; a prior activity is never
		// auto-resumed.
		return
	}

	o.mu.RLock()
	required := false
	for _, r := range o.current.Requires() {
		if r == role {
			required = true
			break
		}
	}
	ready := o.ready
	o.mu.RUnlock()

	if required && ready {
		go o.deviceLost(role)
	}
}

// applyStatus merges a poll observation into the device map.
func (o *Orchestrator) applyStatus(role adapter.Role, status adapter.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices[role] = DeviceState{
		Connection: status.Connection,
		Power:      status.Power,
		Volume:     status.Volume,
		Source:     status.Source,
		Playing:    status.Playing,
		ObservedAt: status.ObservedAt,
	}
}

// deviceLost forces the room OFF after a required device dropped off
// the network. The remaining reachable devices get a best-effort
// power-off, skipping the lost one, since it cannot be assumed to
// honour further commands.
func (o *Orchestrator) deviceLost(role adapter.Role) {
	o.transMu.Lock()
	defer o.transMu.Unlock()

	o.mu.RLock()
	from := o.current
	o.mu.RUnlock()

	// Re-check under the serialisation point: an earlier loss may have
	// already forced OFF, or the activity may have changed.
	required := false
	for _, r := range from.Requires() {
		if r == role {
			required = true
			break
		}
	}
	if !required {
		return
	}

	cause := "device-lost:" + uuid.New().String()
	o.logger.Warn("required device lost, forcing off", "role", role, "from", from)

	ctx, cancel := context.WithTimeout(context.Background(), deviceLostTimeout)
	defer cancel()

	for _, other := range o.defs[from].Order {
		if other == role || !o.roleReachable(other) {
			continue
		}
		if _, err := o.cmds.SubmitWait(ctx, dispatch.Command{
			Role:  other,
			Verb:  dispatch.VerbPower,
			On:    false,
			Cause: cause,
		}); err != nil {
			o.logger.Warn("best-effort power-off failed", "role", other, "error", err)
		}
	}

	o.mu.Lock()
	o.current = ActivityOff
	o.mu.Unlock()

	o.persist(ActivityOff)
	o.pub.Publish("activity", events.KindTransitionCommitted, transitionPayload{
		From:   string(from),
		To:     string(ActivityOff),
		Cause:  cause,
		Reason: "device lost",
		Role:   string(role),
	})
}

// persist writes the snapshot for the given committed activity.
// Persistence is fail-open: a write failure is logged and emitted as
// an event but never rolls back the in-memory commit.
func (o *Orchestrator) persist(current Activity) {
	o.mu.RLock()
	snap := store.Snapshot{
		Activity: string(current),
		Volume:   o.volume,
		Source:   o.source,
		Defaults: o.defaults,
	}
	o.mu.RUnlock()

	if err := o.snaps.Save(o.roomID, snap); err != nil {
		o.logger.Error("snapshot write failed", "error", err)
		o.publishPersistenceError(err)
	}
}

func (o *Orchestrator) publishPersistenceError(err error) {
	o.pub.Publish("activity", events.KindPersistenceError, map[string]string{
		"error": err.Error(),
	})
}

// roleReachable reports whether the role's last observation was
// reachable.
func (o *Orchestrator) roleReachable(role adapter.Role) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ds, ok := o.devices[role]
	return ok && ds.Connection == adapter.ConnReachable
}

func (o *Orchestrator) setTransitioning(v bool) {
	o.mu.Lock()
	o.transitioning = v
	o.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
