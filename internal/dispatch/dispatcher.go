package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/events"
	"github.com/roomhub/roomhub/internal/infrastructure/logging"
)

// Dispatch defaults, used when Options fields are zero.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 250 * time.Millisecond
	DefaultQueueSize   = 32
)

// Publisher is the slice of the event broadcaster the dispatcher needs.
type Publisher interface {
	Publish(source string, kind events.Kind, payload any) events.Event
}

// Options configures dispatcher behaviour.
type Options struct {
	// Timeout bounds a single command attempt.
	Timeout time.Duration

	// MaxAttempts is the total attempt budget per command.
	MaxAttempts int

	// Backoff is the delay before the first retry; it doubles per
	// subsequent retry.
	Backoff time.Duration

	// QueueSize is the per-role queue depth.
	QueueSize int
}

// withDefaults fills zero fields from the package defaults.
func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

// pending tracks an in-flight command and everyone waiting on it.
type pending struct {
	cmd     Command
	waiters []chan Result
}

// outcomePayload is the command-outcome event body.
type outcomePayload struct {
	Role     string `json:"role"`
	Command  string `json:"command"`
	Code     string `json:"code"`
	Attempts int    `json:"attempts"`
	Cause    string `json:"cause,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Dispatcher owns per-role command queues and executes commands
// against adapters with timeout and retry.
//
// Ordering: commands for the same role execute strictly in submission
// order on a single worker goroutine. Commands for different roles run
// concurrently.
//
// Idempotency: a command whose Key() matches one already queued or
// executing does not dispatch a second device operation; the caller is
// attached as an additional waiter on the in-flight command and
// receives its result.
//
// Retry: a retryable failure is reattempted after an exponentially
// doubling backoff, up to MaxAttempts. Unsupported outcomes and
// successes are terminal immediately.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Dispatcher struct {
	opts   Options
	logger *logging.Logger
	pub    Publisher

	mu       sync.Mutex
	adapters map[adapter.Role]adapter.Adapter
	queues   map[adapter.Role]chan string
	inflight map[string]*pending
	running  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher.
//
// Parameters:
//   - opts: Timeout/retry/queue configuration (zero fields take defaults)
//   - logger: Structured logger
//   - pub: Event publisher for command-outcome events (may be nil)
//
// Returns:
//   - *Dispatcher: Dispatcher ready for Register and Start
func New(opts Options, logger *logging.Logger, pub Publisher) *Dispatcher {
	return &Dispatcher{
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "dispatch"),
		pub:      pub,
		adapters: make(map[adapter.Role]adapter.Adapter),
		queues:   make(map[adapter.Role]chan string),
		inflight: make(map[string]*pending),
	}
}

// Register binds an adapter to its role. Must be called before Start.
func (d *Dispatcher) Register(a adapter.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[a.Role()] = a
	d.queues[a.Role()] = make(chan string, d.opts.QueueSize)
}

// Start launches one worker goroutine per registered role.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	for role, queue := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, d.adapters[role], queue)
	}
}

// Stop cancels the workers and waits for them to drain. In-flight
// waiters receive a failed result.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	// Fail anything still queued.
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, p := range d.inflight {
		res := Result{Outcome: adapter.Failure(ErrNotRunning)}
		for _, w := range p.waiters {
			w <- res
		}
		delete(d.inflight, key)
	}
}

// Submit queues a command and returns a channel that will receive its
// terminal result.
//
// If an identical command (same Key) is already queued or executing,
// no new device operation is dispatched; the returned channel receives
// the in-flight command's result.
//
// Returns:
//   - <-chan Result: Buffered channel delivering exactly one result
//   - error: ErrUnknownRole, ErrQueueFull, or ErrNotRunning
func (d *Dispatcher) Submit(cmd Command) (<-chan Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil, ErrNotRunning
	}
	queue, ok := d.queues[cmd.Role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, cmd.Role)
	}

	waiter := make(chan Result, 1)
	key := cmd.Key()

	if p, exists := d.inflight[key]; exists {
		p.waiters = append(p.waiters, waiter)
		d.logger.Debug("command coalesced", "command", cmd.Describe(), "cause", cmd.Cause)
		return waiter, nil
	}

	select {
	case queue <- key:
	default:
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, cmd.Role)
	}

	d.inflight[key] = &pending{
		cmd:     cmd,
		waiters: []chan Result{waiter},
	}
	return waiter, nil
}

// SubmitWait submits a command and blocks until its terminal result or
// context cancellation.
func (d *Dispatcher) SubmitWait(ctx context.Context, cmd Command) (Result, error) {
	ch, err := d.Submit(cmd)
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// work is the per-role worker loop. It executes queued commands one at
// a time, preserving submission order for the role.
func (d *Dispatcher) work(ctx context.Context, a adapter.Adapter, queue chan string) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case key := <-queue:
			d.mu.Lock()
			p, ok := d.inflight[key]
			d.mu.Unlock()
			if !ok {
				continue
			}

			res := d.execute(ctx, a, p.cmd)

			// Remove from the in-flight map before delivering so a
			// resubmission after delivery dispatches fresh.
			d.mu.Lock()
			delete(d.inflight, key)
			waiters := p.waiters
			d.mu.Unlock()

			for _, w := range waiters {
				w <- res
			}
			d.publishOutcome(p.cmd, res)
		}
	}
}

// execute runs a command with per-attempt timeout and exponential
// backoff between retryable failures.
func (d *Dispatcher) execute(ctx context.Context, a adapter.Adapter, cmd Command) Result {
	backoff := d.opts.Backoff

	var out adapter.Outcome
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		out = d.attempt(ctx, a, cmd)
		if !out.Retryable() {
			return Result{Outcome: out, Attempts: attempt}
		}

		d.logger.Warn("command attempt failed",
			"command", cmd.Describe(),
			"attempt", attempt,
			"max_attempts", d.opts.MaxAttempts,
			"error", out.Err,
		)

		if attempt == d.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Result{
				Outcome:  adapter.Failure(ctx.Err()),
				Attempts: attempt,
			}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return Result{
		Outcome:  adapter.Failure(fmt.Errorf("%w: %s: %w", ErrAttemptsExhausted, cmd.Describe(), out.Err)),
		Attempts: d.opts.MaxAttempts,
	}
}

// attempt performs one bounded call to the adapter.
func (d *Dispatcher) attempt(ctx context.Context, a adapter.Adapter, cmd Command) adapter.Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	var out adapter.Outcome
	switch cmd.Verb {
	case VerbPower:
		out = a.Power(ctx, cmd.On)
	case VerbVolume:
		out = a.SetVolume(ctx, cmd.Level)
	case VerbSource:
		out = a.SelectSource(ctx, cmd.Source)
	case VerbMedia:
		out = a.Media(ctx, cmd.MediaOp)
	default:
		return adapter.Failure(fmt.Errorf("unknown verb %q", cmd.Verb))
	}

	if out.Retryable() && ctx.Err() != nil {
		out = adapter.Failure(fmt.Errorf("%w: %s", ErrCommandTimeout, cmd.Describe()))
	}
	return out
}

// publishOutcome emits the command-outcome event.
func (d *Dispatcher) publishOutcome(cmd Command, res Result) {
	if d.pub == nil {
		return
	}
	payload := outcomePayload{
		Role:     string(cmd.Role),
		Command:  cmd.Describe(),
		Code:     string(res.Outcome.Code),
		Attempts: res.Attempts,
		Cause:    cmd.Cause,
	}
	if res.Outcome.Err != nil {
		payload.Error = res.Outcome.Err.Error()
	}
	d.pub.Publish("dispatch", events.KindCommandOutcome, payload)
}
