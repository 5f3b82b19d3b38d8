package activity

import (
	"time"

	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/infrastructure/config"
	"github.com/roomhub/roomhub/internal/store"
)

// Activity is the room's top-level mode. Exactly one is current at any
// instant; it changes only through a committed transition.
type Activity string

// Room activities.
const (
	// ActivityOff is the safe idle state. Every device is powered down.
	ActivityOff Activity = "off"

	// ActivityWatch is a viewing session: tv and speaker active.
	ActivityWatch Activity = "watch"

	// ActivityListen is an audio session: speaker and media backend
	// active.
	ActivityListen Activity = "listen"
)

// Valid reports whether the activity is one of the recognised values.
func (a Activity) Valid() bool {
	switch a {
	case ActivityOff, ActivityWatch, ActivityListen:
		return true
	}
	return false
}

// Requires returns the device roles that must be reachable before the
// activity can be entered. OFF requires nothing: it must always be
// reachable as the safe state.
func (a Activity) Requires() []adapter.Role {
	switch a {
	case ActivityWatch:
		return []adapter.Role{adapter.RoleTV, adapter.RoleSpeaker}
	case ActivityListen:
		return []adapter.Role{adapter.RoleSpeaker, adapter.RoleMedia}
	default:
		return nil
	}
}

// Definition describes how one activity drives its devices: which
// roles participate, in what order they are powered and configured,
// and the entry configuration for each.
type Definition struct {
	// Order is the power/configure sequence for the activity's roles.
	Order []adapter.Role

	// Volume is the speaker volume applied on entry, unless overridden
	// by the room defaults.
	Volume int

	// Sources maps a role to the input source selected on entry.
	Sources map[adapter.Role]string

	// Station is the media station started on entry (listen only).
	Station string
}

// Uses reports whether the role participates in the activity.
func (d Definition) Uses(role adapter.Role) bool {
	for _, r := range d.Order {
		if r == role {
			return true
		}
	}
	return false
}

// Definitions maps each enterable activity to its definition.
// OFF has no definition; leaving for OFF powers down the departing
// activity's chain.
type Definitions map[Activity]Definition

// DefinitionsFromConfig converts the YAML activity sections into
// runtime definitions.
func DefinitionsFromConfig(cfg config.ActivitiesConfig) Definitions {
	return Definitions{
		ActivityWatch:  definitionFromConfig(cfg.Watch),
		ActivityListen: definitionFromConfig(cfg.Listen),
	}
}

func definitionFromConfig(ac config.ActivityConfig) Definition {
	def := Definition{
		Volume:  ac.Volume,
		Station: ac.Station,
	}
	for _, role := range ac.Order {
		def.Order = append(def.Order, adapter.Role(role))
	}
	if len(ac.Sources) > 0 {
		def.Sources = make(map[adapter.Role]string, len(ac.Sources))
		for role, src := range ac.Sources {
			def.Sources[adapter.Role(role)] = src
		}
	}
	return def
}

// InitialDefaults derives the room defaults from configuration, used
// when no snapshot carries persisted defaults yet.
func InitialDefaults(cfg config.ActivitiesConfig) store.Defaults {
	return store.Defaults{
		WatchVolume:   cfg.Watch.Volume,
		ListenVolume:  cfg.Listen.Volume,
		ListenStation: cfg.Listen.Station,
	}
}

// DeviceState is the orchestrator's last-known view of one device.
type DeviceState struct {
	Connection adapter.Connection `json:"connection"`
	Power      bool               `json:"power"`
	Volume     int                `json:"volume"`
	Source     string             `json:"source,omitempty"`
	Playing    bool               `json:"playing"`
	ObservedAt time.Time          `json:"observed_at"`
}

// State is a consistent copy of the orchestrator's current view,
// served to status queries without blocking in-flight transitions.
type State struct {
	// Activity is the current committed activity.
	Activity Activity `json:"activity"`

	// Volume is the last committed room volume.
	Volume int `json:"volume"`

	// Source is the last committed speaker source.
	Source string `json:"source,omitempty"`

	// Defaults are the current transition defaults.
	Defaults store.Defaults `json:"defaults"`

	// Devices is the last-known state per role.
	Devices map[adapter.Role]DeviceState `json:"devices"`

	// Transitioning reports whether a transition is executing.
	Transitioning bool `json:"transitioning"`

	// Ready reports whether startup revalidation has completed.
	Ready bool `json:"ready"`
}
