package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReachability records a device's reachability as 1 (reachable)
// or 0 (unreachable). The write is non-blocking; data is batched and
// sent asynchronously.
//
// Parameters:
//   - roomID: Room identifier tag
//   - role: Device role tag (tv, speaker, media)
//   - reachable: Current reachability
func (c *Client) WriteReachability(roomID, role string, reachable bool) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if reachable {
		value = 1
	}
	point := write.NewPoint(
		"device_reachability",
		map[string]string{
			"room": roomID,
			"role": role,
		},
		map[string]interface{}{
			"reachable": value,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteVolume records the committed room volume.
//
// Parameters:
//   - roomID: Room identifier tag
//   - level: Volume 0-100
func (c *Client) WriteVolume(roomID string, level int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"room_volume",
		map[string]string{"room": roomID},
		map[string]interface{}{"level": level},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteTransition records an activity transition outcome.
//
// Parameters:
//   - roomID: Room identifier tag
//   - from, to: Activities involved
//   - committed: Whether the transition committed (false = failed/rolled back)
func (c *Client) WriteTransition(roomID, from, to string, committed bool) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if committed {
		value = 1
	}
	point := write.NewPoint(
		"activity_transition",
		map[string]string{
			"room": roomID,
			"from": from,
			"to":   to,
		},
		map[string]interface{}{
			"committed": value,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and
// fields, for measurements the helpers don't cover.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
