// Package mqtt relays the room's event stream to an MQTT broker.
//
// The relay is optional and publish-only: Roomhub runs fully without a
// broker, and a connected broker is an observer, not a command source.
// It announces service status with a retained LWT on
// roomhub/system/status, fans each event out to
// roomhub/{room}/event/{kind}, and keeps the retained
// roomhub/{room}/state topic current so dashboards see the room at a
// glance.
package mqtt
