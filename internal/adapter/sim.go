package adapter

import (
	"context"
	"sync"
	"time"
)

// Sim is an in-memory simulated device.
//
// It behaves like a well-mannered real device: operations mutate held
// state and succeed, unless the simulation is configured to misbehave.
// Sim backs rooms with no physical hardware and the bulk of the test
// suite.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Sim struct {
	mu sync.Mutex

	role      Role
	reachable bool
	power     bool
	volume    int
	source    string
	playing   bool

	// failNext, when non-nil, is returned as the outcome of the next
	// mutating operation and then cleared. Used to script failures.
	failNext *Outcome

	// opDelay, when non-zero, is applied to every mutating operation.
	// Used to provoke command timeouts in tests.
	opDelay time.Duration
}

// NewSim creates a simulated device for the given role.
// The device starts reachable, powered off, at volume 0.
func NewSim(role Role) *Sim {
	return &Sim{
		role:      role,
		reachable: true,
	}
}

// Role returns the role this simulator fulfils.
func (s *Sim) Role() Role {
	return s.role
}

// SetReachable flips the simulated network link. While unreachable,
// every operation fails with ErrUnreachable and probes report
// ConnUnreachable.
func (s *Sim) SetReachable(reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = reachable
}

// FailNext scripts the next mutating operation to return the given
// outcome instead of succeeding.
func (s *Sim) FailNext(outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = &outcome
}

// SetOpDelay makes every mutating operation sleep for d before
// completing, honouring context cancellation.
func (s *Sim) SetOpDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opDelay = d
}

// gate applies the common preconditions for a mutating operation:
// scripted failure, reachability, and the configured delay.
// It returns a non-nil outcome when the operation must not proceed.
// Callers must NOT hold the mutex.
func (s *Sim) gate(ctx context.Context) *Outcome {
	s.mu.Lock()
	if s.failNext != nil {
		out := *s.failNext
		s.failNext = nil
		s.mu.Unlock()
		return &out
	}
	if !s.reachable {
		s.mu.Unlock()
		out := Failure(ErrUnreachable)
		return &out
	}
	delay := s.opDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			out := Failure(ctx.Err())
			return &out
		}
	}
	if err := ctx.Err(); err != nil {
		out := Failure(err)
		return &out
	}
	return nil
}

// Power turns the simulated device on or off.
func (s *Sim) Power(ctx context.Context, on bool) Outcome {
	if out := s.gate(ctx); out != nil {
		return *out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.power = on
	if !on {
		s.playing = false
	}
	return Success()
}

// SetVolume sets the simulated volume.
func (s *Sim) SetVolume(ctx context.Context, level int) Outcome {
	if out := s.gate(ctx); out != nil {
		return *out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = level
	return Success()
}

// SelectSource switches the simulated input source.
func (s *Sim) SelectSource(ctx context.Context, source string) Outcome {
	if out := s.gate(ctx); out != nil {
		return *out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	return Success()
}

// Media performs a simulated playback operation. Only the media role
// supports playback; other roles report unsupported.
func (s *Sim) Media(ctx context.Context, op MediaOp) Outcome {
	if s.role != RoleMedia {
		return Unsupported()
	}
	if out := s.gate(ctx); out != nil {
		return *out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch op {
	case MediaPlay:
		s.playing = true
	case MediaPause, MediaStop:
		s.playing = false
	case MediaNext, MediaPrev:
		// track change, playback state unaffected
	}
	return Success()
}

// PollStatus returns the simulator's current state.
func (s *Sim) PollStatus(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Connection: ConnReachable,
		Power:      s.power,
		Volume:     s.volume,
		Source:     s.source,
		Playing:    s.playing,
		ObservedAt: time.Now(),
	}
	if !s.reachable {
		st = Status{
			Connection: ConnUnreachable,
			Volume:     -1,
			ObservedAt: st.ObservedAt,
		}
	}
	return st, nil
}
