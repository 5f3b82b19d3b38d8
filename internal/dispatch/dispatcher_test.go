package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/events"
	"github.com/roomhub/roomhub/internal/infrastructure/logging"
)

// slowAdapter wraps a Sim and counts operations, optionally blocking
// until released so tests can pin a command in flight.
type slowAdapter struct {
	*adapter.Sim
	mu      sync.Mutex
	ops     int
	release chan struct{} // when non-nil, operations block until closed
}

func (s *slowAdapter) SetVolume(ctx context.Context, level int) adapter.Outcome {
	s.mu.Lock()
	s.ops++
	release := s.release
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return adapter.Failure(ctx.Err())
		}
	}
	return s.Sim.SetVolume(ctx, level)
}

func (s *slowAdapter) opCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops
}

func testOptions() Options {
	return Options{
		Timeout:     200 * time.Millisecond,
		MaxAttempts: 3,
		Backoff:     5 * time.Millisecond,
		QueueSize:   8,
	}
}

func newTestDispatcher(t *testing.T, opts Options, pub Publisher, adapters ...adapter.Adapter) *Dispatcher {
	t.Helper()
	d := New(opts, logging.Default(), pub)
	for _, a := range adapters {
		d.Register(a)
	}
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestSubmitWait_Success(t *testing.T) {
	sim := adapter.NewSim(adapter.RoleSpeaker)
	d := newTestDispatcher(t, testOptions(), nil, sim)

	res, err := d.SubmitWait(context.Background(), Command{
		Role:  adapter.RoleSpeaker,
		Verb:  VerbVolume,
		Level: 20,
		Cause: "test",
	})
	if err != nil {
		t.Fatalf("SubmitWait() error = %v", err)
	}
	if !res.OK() || res.Attempts != 1 {
		t.Errorf("result = %+v, want success in 1 attempt", res)
	}

	st, _ := sim.PollStatus(context.Background())
	if st.Volume != 20 {
		t.Errorf("device volume = %d, want 20", st.Volume)
	}
}

func TestSubmit_UnknownRole(t *testing.T) {
	d := newTestDispatcher(t, testOptions(), nil, adapter.NewSim(adapter.RoleSpeaker))

	_, err := d.Submit(Command{Role: adapter.RoleTV, Verb: VerbPower, On: true})
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("Submit() error = %v, want ErrUnknownRole", err)
	}
}

func TestSubmit_NotRunning(t *testing.T) {
	d := New(testOptions(), logging.Default(), nil)
	d.Register(adapter.NewSim(adapter.RoleSpeaker))

	_, err := d.Submit(Command{Role: adapter.RoleSpeaker, Verb: VerbPower, On: true})
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit() error = %v, want ErrNotRunning", err)
	}
}

func TestExecute_RetriesTransientFailure(t *testing.T) {
	sim := adapter.NewSim(adapter.RoleSpeaker)
	sim.FailNext(adapter.Failure(errors.New("transient")))
	d := newTestDispatcher(t, testOptions(), nil, sim)

	res, err := d.SubmitWait(context.Background(), Command{
		Role:  adapter.RoleSpeaker,
		Verb:  VerbVolume,
		Level: 30,
		Cause: "test",
	})
	if err != nil {
		t.Fatalf("SubmitWait() error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("result = %+v, want eventual success", res)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	sim := adapter.NewSim(adapter.RoleSpeaker)
	sim.SetReachable(false)
	d := newTestDispatcher(t, testOptions(), nil, sim)

	res, err := d.SubmitWait(context.Background(), Command{
		Role:  adapter.RoleSpeaker,
		Verb:  VerbVolume,
		Level: 30,
		Cause: "test",
	})
	if err != nil {
		t.Fatalf("SubmitWait() error = %v", err)
	}
	if res.OK() {
		t.Fatal("result succeeded, want exhausted failure")
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if !errors.Is(res.Outcome.Err, ErrAttemptsExhausted) {
		t.Errorf("err = %v, want ErrAttemptsExhausted", res.Outcome.Err)
	}
}

func TestExecute_UnsupportedIsTerminal(t *testing.T) {
	mon := adapter.NewTVMonitor("203.0.113.1") // no power control
	d := newTestDispatcher(t, testOptions(), nil, mon)

	res, err := d.SubmitWait(context.Background(), Command{
		Role:  adapter.RoleTV,
		Verb:  VerbVolume,
		Level: 10,
		Cause: "test",
	})
	if err != nil {
		t.Fatalf("SubmitWait() error = %v", err)
	}
	if res.Outcome.Code != adapter.OutcomeUnsupported {
		t.Errorf("code = %q, want unsupported", res.Outcome.Code)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (no retry on unsupported)", res.Attempts)
	}
}

func TestExecute_PerAttemptTimeout(t *testing.T) {
	sim := adapter.NewSim(adapter.RoleSpeaker)
	sim.SetOpDelay(time.Second)
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	opts.MaxAttempts = 2
	d := newTestDispatcher(t, opts, nil, sim)

	res, err := d.SubmitWait(context.Background(), Command{
		Role:  adapter.RoleSpeaker,
		Verb:  VerbVolume,
		Level: 30,
		Cause: "test",
	})
	if err != nil {
		t.Fatalf("SubmitWait() error = %v", err)
	}
	if res.OK() {
		t.Fatal("result succeeded, want timeout failure")
	}
	if !errors.Is(res.Outcome.Err, ErrCommandTimeout) && !errors.Is(res.Outcome.Err, ErrAttemptsExhausted) {
		t.Errorf("err = %v, want timeout or exhausted", res.Outcome.Err)
	}
}

func TestSubmit_CoalescesDuplicateInFlight(t *testing.T) {
	slow := &slowAdapter{
		Sim:     adapter.NewSim(adapter.RoleSpeaker),
		release: make(chan struct{}),
	}
	d := newTestDispatcher(t, testOptions(), nil, slow)

	cmd := Command{Role: adapter.RoleSpeaker, Verb: VerbVolume, Level: 25, Cause: "req-1"}

	ch1, err := d.Submit(cmd)
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	// Wait until the worker is inside the adapter call.
	deadline := time.Now().Add(time.Second)
	for slow.opCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if slow.opCount() != 1 {
		t.Fatalf("opCount = %d, want 1 in-flight operation", slow.opCount())
	}

	ch2, err := d.Submit(cmd)
	if err != nil {
		t.Fatalf("duplicate Submit() error = %v", err)
	}

	close(slow.release)

	res1 := <-ch1
	res2 := <-ch2
	if !res1.OK() || !res2.OK() {
		t.Fatalf("results = %+v / %+v, want both success", res1, res2)
	}
	if slow.opCount() != 1 {
		t.Errorf("opCount = %d, want exactly one device operation", slow.opCount())
	}
}

func TestSubmit_DifferentCausesNotCoalesced(t *testing.T) {
	a := Command{Role: adapter.RoleSpeaker, Verb: VerbVolume, Level: 25, Cause: "req-1"}
	b := Command{Role: adapter.RoleSpeaker, Verb: VerbVolume, Level: 25, Cause: "req-2"}
	if a.Key() == b.Key() {
		t.Error("commands with different causes share a key")
	}
}

func TestPublishOutcome_EmitsEvent(t *testing.T) {
	broadcaster := events.NewBroadcaster(10, 4, nil)
	sub := broadcaster.Subscribe(0)
	defer broadcaster.Unsubscribe(sub.ID)

	sim := adapter.NewSim(adapter.RoleSpeaker)
	d := newTestDispatcher(t, testOptions(), broadcaster, sim)

	if _, err := d.SubmitWait(context.Background(), Command{
		Role:  adapter.RoleSpeaker,
		Verb:  VerbPower,
		On:    true,
		Cause: "test",
	}); err != nil {
		t.Fatalf("SubmitWait() error = %v", err)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != events.KindCommandOutcome {
			t.Errorf("event kind = %q, want command-outcome", ev.Kind)
		}
		if ev.Source != "dispatch" {
			t.Errorf("event source = %q, want dispatch", ev.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("no command-outcome event published")
	}
}

func TestRoles_RunIndependently(t *testing.T) {
	slowSpeaker := &slowAdapter{
		Sim:     adapter.NewSim(adapter.RoleSpeaker),
		release: make(chan struct{}),
	}
	tv := adapter.NewSim(adapter.RoleTV)
	d := newTestDispatcher(t, testOptions(), nil, slowSpeaker, tv)

	// Pin the speaker worker.
	if _, err := d.Submit(Command{Role: adapter.RoleSpeaker, Verb: VerbVolume, Level: 1, Cause: "pin"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	defer close(slowSpeaker.release)

	// The TV command must complete while the speaker is blocked.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := d.SubmitWait(ctx, Command{Role: adapter.RoleTV, Verb: VerbPower, On: true, Cause: "test"})
	if err != nil {
		t.Fatalf("tv SubmitWait() error = %v", err)
	}
	if !res.OK() {
		t.Errorf("tv result = %+v, want success", res)
	}
}
