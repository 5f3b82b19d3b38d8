package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Broadcaster defaults.
const (
	// DefaultBufferSize is the ring buffer capacity when none is
	// configured.
	DefaultBufferSize = 500

	// DefaultSubscriberBuffer is the per-subscriber channel depth when
	// none is configured.
	DefaultSubscriberBuffer = 64
)

// Subscription is a live feed of events plus the replayed backlog.
//
// Replay holds every buffered event after the subscriber's cursor,
// captured atomically with channel registration: the first event on C
// is always the successor of the last element of Replay (or of the
// cursor itself when Replay is empty), so a consumer that processes
// Replay then reads C sees a gapless sequence.
//
// C is closed when the subscriber is dropped for falling behind or the
// broadcaster shuts down.
type Subscription struct {
	// ID identifies the subscription for logging and unsubscribe.
	ID string

	// Replay is the buffered backlog after the requested cursor.
	Replay []Event

	// C delivers live events.
	C <-chan Event
}

// DropFunc is invoked when a slow subscriber is evicted. It runs with
// the broadcaster lock held and must not call back into the
// broadcaster.
type DropFunc func(id string, lastSeq uint64)

// Broadcaster is the room's single ordered event stream.
//
// Publish assigns each event a strictly monotonic sequence number,
// appends it to a bounded ring buffer, and fans it out to every
// subscriber. Delivery is non-blocking: a subscriber whose channel is
// full is closed and removed rather than allowed to stall the room.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Broadcaster struct {
	mu sync.Mutex

	seq  uint64
	ring []Event // ordered oldest to newest
	cap  int

	subs    map[string]chan Event
	subBuf  int
	onDrop  DropFunc
	closed  bool
}

// NewBroadcaster creates a broadcaster with the given ring buffer
// capacity and per-subscriber channel depth. Zero or negative values
// fall back to the defaults.
func NewBroadcaster(bufferSize, subscriberBuffer int, onDrop DropFunc) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		ring:   make([]Event, 0, bufferSize),
		cap:    bufferSize,
		subs:   make(map[string]chan Event),
		subBuf: subscriberBuffer,
		onDrop: onDrop,
	}
}

// Publish assigns the next sequence number to the event and delivers
// it. The payload is marshalled to JSON; a marshal failure publishes
// the event with an empty payload rather than losing the sequence slot.
//
// Parameters:
//   - source: Component raising the event
//   - kind: Event classification
//   - payload: Kind-specific data, marshalled to JSON
//
// Returns:
//   - Event: The published event including its assigned sequence number
func (b *Broadcaster) Publish(source string, kind Kind, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := Event{
		Seq:       b.seq,
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Payload:   raw,
	}

	if b.closed {
		return ev
	}

	// Append to ring, evicting the oldest when full.
	if len(b.ring) == b.cap {
		copy(b.ring, b.ring[1:])
		b.ring[len(b.ring)-1] = ev
	} else {
		b.ring = append(b.ring, ev)
	}

	// Non-blocking fan-out. A full channel means the subscriber has
	// fallen further behind than its buffer allows: evict it.
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.subs, id)
			if b.onDrop != nil {
				b.onDrop(id, ev.Seq)
			}
		}
	}

	return ev
}

// Subscribe registers a new subscriber with a replay cursor.
//
// Every buffered event with Seq > since is returned in Replay, and the
// live channel is registered under the same lock, so no event falls
// between the backlog and the feed. A cursor of 0 replays the whole
// buffer; a cursor at or past the newest event replays nothing.
//
// Events older than the buffer horizon are gone; callers needing full
// history read it from the history store instead.
func (b *Broadcaster) Subscribe(since uint64) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var replay []Event
	for _, ev := range b.ring {
		if ev.Seq > since {
			replay = append(replay, ev)
		}
	}

	ch := make(chan Event, b.subBuf)
	id := uuid.New().String()
	if b.closed {
		close(ch)
	} else {
		b.subs[id] = ch
	}

	return Subscription{
		ID:     id,
		Replay: replay,
		C:      ch,
	}
}

// Unsubscribe removes a subscriber and closes its channel.
// Unknown IDs are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// LastSeq returns the sequence number of the most recently published
// event, or 0 if nothing has been published.
func (b *Broadcaster) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Close shuts the broadcaster down, closing every subscriber channel.
// Publish calls after Close still assign sequence numbers but deliver
// nothing.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
