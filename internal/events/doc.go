// Package events provides the room's ordered event stream.
//
// Every observable change in a room (transitions, device status edges,
// command outcomes, persistence faults) is published through a single
// Broadcaster, which assigns a gapless monotonic sequence number and
// fans the event out to subscribers. A bounded ring buffer retains
// recent events so reconnecting consumers can replay from their last
// cursor; anything older lives in the history store.
//
// Slow consumers never stall the room: a subscriber whose channel
// fills is closed and removed, and reconnects with its cursor to
// resynchronise.
package events
