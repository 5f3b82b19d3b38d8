package mqtt

import "fmt"

// Topic structure for the Roomhub relay:
//
//	roomhub/system/status      - online/offline status (retained, LWT)
//	roomhub/{room}/state       - current room state (retained)
//	roomhub/{room}/event/{kind} - event stream fan-out
//
// Topics carry the room ID so multiple rooms can share one broker.
type Topics struct{}

// SystemStatus returns the service status topic used for the LWT and
// graceful online/offline announcements.
func (Topics) SystemStatus() string {
	return "roomhub/system/status"
}

// RoomState returns the retained current-state topic for a room.
func (Topics) RoomState(roomID string) string {
	return fmt.Sprintf("roomhub/%s/state", roomID)
}

// RoomEvent returns the per-kind event topic for a room.
func (Topics) RoomEvent(roomID, kind string) string {
	return fmt.Sprintf("roomhub/%s/event/%s", roomID, kind)
}
