package activity

import (
	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/dispatch"
	"github.com/roomhub/roomhub/internal/store"
)

// step is one device operation in a transition plan, paired with the
// inverse operations that restore the previous activity's
// configuration for that role if the transition must be rolled back.
type step struct {
	cmd     dispatch.Command
	inverse []dispatch.Command
}

// buildPlan computes the ordered device commands that move the room
// from one activity's device configuration to another's.
//
// Roles leaving the chain are powered off first, in the departing
// activity's order. Roles in the target chain are then powered and
// configured in the target's order. Volume and station come from the
// room defaults, which override the static definition.
func buildPlan(defs Definitions, from, to Activity, defaults store.Defaults, cause string) []step {
	fromDef := defs[from] // zero value for OFF: empty chain
	toDef := defs[to]

	var plan []step

	// Power off departing roles.
	for _, role := range fromDef.Order {
		if toDef.Uses(role) {
			continue
		}
		plan = append(plan, step{
			cmd:     dispatch.Command{Role: role, Verb: dispatch.VerbPower, On: false, Cause: cause},
			inverse: restoreCommands(fromDef, from, role, defaults, cause),
		})
	}

	// Power and configure the target chain.
	for _, role := range toDef.Order {
		var inverse []dispatch.Command
		if fromDef.Uses(role) {
			inverse = restoreCommands(fromDef, from, role, defaults, cause)
		} else {
			inverse = []dispatch.Command{
				{Role: role, Verb: dispatch.VerbPower, On: false, Cause: cause},
			}
		}

		plan = append(plan, step{
			cmd:     dispatch.Command{Role: role, Verb: dispatch.VerbPower, On: true, Cause: cause},
			inverse: inverse,
		})
		for _, cmd := range configureCommands(toDef, to, role, defaults, cause) {
			plan = append(plan, step{cmd: cmd, inverse: inverse})
		}
	}

	return plan
}

// configureCommands returns the post-power setup for a role entering
// an activity: speaker volume and source, media station and playback.
func configureCommands(def Definition, act Activity, role adapter.Role, defaults store.Defaults, cause string) []dispatch.Command {
	var cmds []dispatch.Command

	if role == adapter.RoleSpeaker {
		cmds = append(cmds, dispatch.Command{
			Role:  role,
			Verb:  dispatch.VerbVolume,
			Level: entryVolume(act, def, defaults),
			Cause: cause,
		})
	}
	if src, ok := def.Sources[role]; ok {
		cmds = append(cmds, dispatch.Command{
			Role:   role,
			Verb:   dispatch.VerbSource,
			Source: src,
			Cause:  cause,
		})
	}
	if role == adapter.RoleMedia && act == ActivityListen {
		if station := entryStation(def, defaults); station != "" {
			cmds = append(cmds, dispatch.Command{
				Role:   role,
				Verb:   dispatch.VerbSource,
				Source: station,
				Cause:  cause,
			})
		}
		cmds = append(cmds, dispatch.Command{
			Role:    role,
			Verb:    dispatch.VerbMedia,
			MediaOp: adapter.MediaPlay,
			Cause:   cause,
		})
	}
	return cmds
}

// restoreCommands returns the commands that put a role back into the
// given activity's configuration, used as rollback inverses.
func restoreCommands(def Definition, act Activity, role adapter.Role, defaults store.Defaults, cause string) []dispatch.Command {
	cmds := []dispatch.Command{
		{Role: role, Verb: dispatch.VerbPower, On: true, Cause: cause},
	}
	return append(cmds, configureCommands(def, act, role, defaults, cause)...)
}

// entryVolume resolves the speaker volume for entering an activity:
// room defaults win over the static definition.
func entryVolume(act Activity, def Definition, defaults store.Defaults) int {
	switch act {
	case ActivityWatch:
		if defaults.WatchVolume > 0 {
			return defaults.WatchVolume
		}
	case ActivityListen:
		if defaults.ListenVolume > 0 {
			return defaults.ListenVolume
		}
	}
	return def.Volume
}

// entryStation resolves the media station for entering listen.
func entryStation(def Definition, defaults store.Defaults) string {
	if defaults.ListenStation != "" {
		return defaults.ListenStation
	}
	return def.Station
}
