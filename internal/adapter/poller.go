package adapter

import (
	"context"
	"sync"
	"time"
)

// StatusFunc receives the outcome of every poll cycle. It is invoked
// on the poller's goroutine; implementations must not block.
type StatusFunc func(role Role, status Status, changed bool)

// Poller periodically probes a set of adapters and reports status
// changes.
//
// Each adapter gets its own goroutine and interval, so a slow TV probe
// never delays the speaker's. The callback fires on every cycle with
// changed=true when the connection state differs from the previous
// observation; the orchestrator uses that edge to raise device-lost
// and device-recovered handling.
//
// Thread Safety:
//   - Start and Stop must not be called concurrently with each other.
//   - The callback runs on poller goroutines; it must synchronise its
//     own state.
type Poller struct {
	onStatus StatusFunc

	mu      sync.Mutex
	entries []pollEntry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type pollEntry struct {
	adapter  Adapter
	interval time.Duration
}

// NewPoller creates a poller that delivers observations to onStatus.
func NewPoller(onStatus StatusFunc) *Poller {
	return &Poller{onStatus: onStatus}
}

// Add registers an adapter to be polled at the given interval.
// Must be called before Start.
func (p *Poller) Add(a Adapter, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, pollEntry{adapter: a, interval: interval})
}

// Start launches one polling goroutine per registered adapter.
// Each goroutine probes immediately, then on its interval, until the
// context is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	for _, e := range p.entries {
		p.wg.Add(1)
		go p.run(ctx, e)
	}
}

// Stop cancels all polling goroutines and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, e pollEntry) {
	defer p.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	last := ConnUnknown
	for {
		status, err := e.adapter.PollStatus(ctx)
		if err != nil {
			status = Status{
				Connection: ConnUnreachable,
				Volume:     -1,
				ObservedAt: time.Now(),
			}
		}
		changed := status.Connection != last
		last = status.Connection
		p.onStatus(e.adapter.Role(), status, changed)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
