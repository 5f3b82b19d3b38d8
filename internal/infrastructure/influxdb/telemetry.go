package influxdb

import (
	"context"
	"encoding/json"

	"github.com/roomhub/roomhub/internal/events"
)

// Writer is the telemetry surface Follow needs, satisfied by *Client.
type Writer interface {
	WriteReachability(roomID, role string, reachable bool)
	WriteVolume(roomID string, level int)
	WriteTransition(roomID, from, to string, committed bool)
}

// Follow consumes a broadcaster subscription and converts events into
// telemetry points until the context is cancelled or the subscription
// closes. Events the mapping doesn't recognise are skipped.
func Follow(ctx context.Context, roomID string, sub events.Subscription, w Writer) {
	for _, ev := range sub.Replay {
		writeEvent(roomID, ev, w)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			writeEvent(roomID, ev, w)
		}
	}
}

// writeEvent maps one event to its telemetry point, if any.
func writeEvent(roomID string, ev events.Event, w Writer) {
	switch ev.Kind {
	case events.KindDeviceStatus:
		var p struct {
			Role       string `json:"role"`
			Connection string `json:"connection"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil && p.Role != "" {
			w.WriteReachability(roomID, p.Role, p.Connection == "reachable")
		}

	case events.KindStateChanged:
		var p struct {
			Volume *int `json:"volume"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil && p.Volume != nil {
			w.WriteVolume(roomID, *p.Volume)
		}

	case events.KindTransitionCommitted, events.KindTransitionFailed:
		var p struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil && p.To != "" {
			w.WriteTransition(roomID, p.From, p.To, ev.Kind == events.KindTransitionCommitted)
		}
	}
}
