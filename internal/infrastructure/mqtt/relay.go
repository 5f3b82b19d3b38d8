package mqtt

import (
	"context"
	"encoding/json"

	"github.com/roomhub/roomhub/internal/events"
)

// Broker is the publish surface the relay needs, satisfied by *Client.
type Broker interface {
	PublishEvent(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// StateFunc returns the current room state for the retained state
// topic.
type StateFunc func() any

// ErrorFunc receives relay publish failures.
type ErrorFunc func(err error)

// Relay consumes a broadcaster subscription and mirrors every event to
// the broker until the context is cancelled or the subscription
// closes.
//
// Each event goes to roomhub/{room}/event/{kind}; after every event
// the full room state is republished retained to roomhub/{room}/state.
// Relaying is best-effort: a publish failure is reported through errFn
// and the loop continues, since the broker is an observer, never a
// dependency.
func Relay(ctx context.Context, roomID string, sub events.Subscription, broker Broker, stateFn StateFunc, errFn ErrorFunc) {
	topics := Topics{}

	relayOne := func(ev events.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			report(errFn, err)
			return
		}
		if err := broker.PublishEvent(topics.RoomEvent(roomID, string(ev.Kind)), payload); err != nil {
			report(errFn, err)
		}
		if stateFn == nil {
			return
		}
		state, err := json.Marshal(stateFn())
		if err != nil {
			report(errFn, err)
			return
		}
		if err := broker.PublishRetained(topics.RoomState(roomID), state); err != nil {
			report(errFn, err)
		}
	}

	for _, ev := range sub.Replay {
		relayOne(ev)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			relayOne(ev)
		}
	}
}

func report(errFn ErrorFunc, err error) {
	if errFn != nil {
		errFn(err)
	}
}
