package activity

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/dispatch"
	"github.com/roomhub/roomhub/internal/events"
	"github.com/roomhub/roomhub/internal/infrastructure/logging"
	"github.com/roomhub/roomhub/internal/store"
)

// flakyVolume wraps a Sim whose SetVolume fails for a scripted number
// of attempts before succeeding.
type flakyVolume struct {
	*adapter.Sim
	failures int32
}

func (f *flakyVolume) SetVolume(ctx context.Context, level int) adapter.Outcome {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return adapter.Failure(dispatch.ErrCommandTimeout)
	}
	return f.Sim.SetVolume(ctx, level)
}

type fixture struct {
	t     *testing.T
	orch  *Orchestrator
	bus   *events.Broadcaster
	snaps *store.Store
}

func testDefs() Definitions {
	return Definitions{
		ActivityWatch: {
			Order:   []adapter.Role{adapter.RoleTV, adapter.RoleSpeaker},
			Volume:  20,
			Sources: map[adapter.Role]string{adapter.RoleSpeaker: "Opt"},
		},
		ActivityListen: {
			Order:   []adapter.Role{adapter.RoleSpeaker, adapter.RoleMedia},
			Volume:  30,
			Sources: map[adapter.Role]string{adapter.RoleSpeaker: "Wifi"},
			Station: "6 Music",
		},
	}
}

func testDefaults() store.Defaults {
	return store.Defaults{WatchVolume: 20, ListenVolume: 30, ListenStation: "6 Music"}
}

// newFixture assembles an orchestrator over a real dispatcher, store,
// and broadcaster. preseed, when non-nil, is written as the snapshot
// before Start so restart recovery paths can be exercised.
func newFixture(t *testing.T, adapters map[adapter.Role]adapter.Adapter, preseed *store.Snapshot) *fixture {
	t.Helper()

	snaps, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	if preseed != nil {
		if err := snaps.Save("den", *preseed); err != nil {
			t.Fatalf("preseed Save() error = %v", err)
		}
	}

	bus := events.NewBroadcaster(100, 32, nil)

	disp := dispatch.New(dispatch.Options{
		Timeout:     200 * time.Millisecond,
		MaxAttempts: 2,
		Backoff:     2 * time.Millisecond,
		QueueSize:   16,
	}, logging.Default(), bus)
	for _, a := range adapters {
		disp.Register(a)
	}
	disp.Start(context.Background())
	t.Cleanup(disp.Stop)

	orch := New("den", testDefs(), testDefaults(), adapters, disp, snaps, bus, logging.Default())
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	return &fixture{t: t, orch: orch, bus: bus, snaps: snaps}
}

func simAdapters() (map[adapter.Role]adapter.Adapter, *adapter.Sim, *adapter.Sim, *adapter.Sim) {
	tv := adapter.NewSim(adapter.RoleTV)
	speaker := adapter.NewSim(adapter.RoleSpeaker)
	media := adapter.NewSim(adapter.RoleMedia)
	return map[adapter.Role]adapter.Adapter{
		adapter.RoleTV:      tv,
		adapter.RoleSpeaker: speaker,
		adapter.RoleMedia:   media,
	}, tv, speaker, media
}

// poll simulates a poller observation reaching the orchestrator.
func (f *fixture) poll(role adapter.Role, conn adapter.Connection) {
	f.orch.HandleStatus(role, adapter.Status{
		Connection: conn,
		Volume:     -1,
		ObservedAt: time.Now(),
	}, true)
}

func (f *fixture) markAllReachable() {
	for _, role := range adapter.Roles() {
		f.poll(role, adapter.ConnReachable)
	}
}

// waitEvent scans a subscription for the first event of the given kind.
func waitEvent(t *testing.T, sub events.Subscription, kind events.Kind) events.Event {
	t.Helper()
	for _, ev := range sub.Replay {
		if ev.Kind == kind {
			return ev
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}

func waitForActivity(t *testing.T, orch *Orchestrator, want Activity) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if orch.State().Activity == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("activity = %q, want %q", orch.State().Activity, want)
}

func TestEnterWatch_CommitsAndPersists(t *testing.T) {
	adapters, tv, speaker, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	sub := f.bus.Subscribe(0)
	defer f.bus.Unsubscribe(sub.ID)

	if err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-1"); err != nil {
		t.Fatalf("SetActivity(watch) error = %v", err)
	}

	state := f.orch.State()
	if state.Activity != ActivityWatch {
		t.Errorf("Activity = %q, want watch", state.Activity)
	}
	if state.Volume != 20 || state.Source != "Opt" {
		t.Errorf("state = volume %d source %q, want 20/Opt", state.Volume, state.Source)
	}

	tvStatus, _ := tv.PollStatus(context.Background())
	if !tvStatus.Power {
		t.Error("tv not powered on")
	}
	spStatus, _ := speaker.PollStatus(context.Background())
	if !spStatus.Power || spStatus.Volume != 20 || spStatus.Source != "Opt" {
		t.Errorf("speaker = %+v, want on/20/Opt", spStatus)
	}

	ev := waitEvent(t, sub, events.KindTransitionCommitted)
	if !strings.Contains(string(ev.Payload), `"to":"watch"`) {
		t.Errorf("committed payload = %s, want to=watch", ev.Payload)
	}

	snap, err := f.snaps.Load("den")
	if err != nil || snap == nil {
		t.Fatalf("Load() = %v, %v; want snapshot", snap, err)
	}
	if snap.Activity != "watch" || snap.Volume != 20 {
		t.Errorf("snapshot = %+v, want activity=watch volume=20", snap)
	}
}

func TestEnterWatch_IssuesCommandsInOrder(t *testing.T) {
	tv := adapter.NewMock(adapter.RoleTV)
	speaker := adapter.NewMock(adapter.RoleSpeaker)
	media := adapter.NewMock(adapter.RoleMedia)
	f := newFixture(t, map[adapter.Role]adapter.Adapter{
		adapter.RoleTV: tv, adapter.RoleSpeaker: speaker, adapter.RoleMedia: media,
	}, nil)
	f.markAllReachable()

	if err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-1"); err != nil {
		t.Fatalf("SetActivity(watch) error = %v", err)
	}

	if got := tv.Calls(); len(got) != 1 || got[0] != "power:true" {
		t.Errorf("tv calls = %v, want [power:true]", got)
	}
	want := []string{"power:true", "volume:20", "source:Opt"}
	got := speaker.Calls()
	if len(got) != len(want) {
		t.Fatalf("speaker calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("speaker call[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(media.Calls()) != 0 {
		t.Errorf("media calls = %v, want none for watch", media.Calls())
	}
}

func TestEnterWatch_AlreadyInState(t *testing.T) {
	tv := adapter.NewMock(adapter.RoleTV)
	speaker := adapter.NewMock(adapter.RoleSpeaker)
	media := adapter.NewMock(adapter.RoleMedia)
	f := newFixture(t, map[adapter.Role]adapter.Adapter{
		adapter.RoleTV: tv, adapter.RoleSpeaker: speaker, adapter.RoleMedia: media,
	}, nil)
	f.markAllReachable()

	if err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-1"); err != nil {
		t.Fatalf("SetActivity(watch) error = %v", err)
	}
	before := len(tv.Calls()) + len(speaker.Calls())

	err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-2")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("repeat SetActivity(watch) error = %v, want ErrInvalidTransition", err)
	}
	if !strings.Contains(err.Error(), "already in requested state") {
		t.Errorf("error = %v, want 'already in requested state'", err)
	}
	if after := len(tv.Calls()) + len(speaker.Calls()); after != before {
		t.Errorf("device commands issued on rejected transition: %d -> %d", before, after)
	}
}

func TestDeviceLost_ForcesOff(t *testing.T) {
	adapters, _, speaker, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	if err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-1"); err != nil {
		t.Fatalf("SetActivity(watch) error = %v", err)
	}

	sub := f.bus.Subscribe(f.bus.LastSeq())
	defer f.bus.Unsubscribe(sub.ID)

	// TV drops off the network.
	f.poll(adapter.RoleTV, adapter.ConnUnreachable)

	waitForActivity(t, f.orch, ActivityOff)

	spStatus, _ := speaker.PollStatus(context.Background())
	if spStatus.Power {
		t.Error("speaker still powered after forced off")
	}

	ev := waitEvent(t, sub, events.KindTransitionCommitted)
	payload := string(ev.Payload)
	if !strings.Contains(payload, `"to":"off"`) || !strings.Contains(payload, `"role":"tv"`) {
		t.Errorf("forced-off payload = %s, want to=off role=tv", payload)
	}
}

func TestDeviceRecovered_DoesNotResume(t *testing.T) {
	adapters, _, _, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	if err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-1"); err != nil {
		t.Fatalf("SetActivity(watch) error = %v", err)
	}
	f.poll(adapter.RoleTV, adapter.ConnUnreachable)
	waitForActivity(t, f.orch, ActivityOff)

	f.poll(adapter.RoleTV, adapter.ConnReachable)
	time.Sleep(50 * time.Millisecond)

	if got := f.orch.State().Activity; got != ActivityOff {
		t.Errorf("activity = %q after recovery, want off (no auto-resume)", got)
	}
}

func TestEnterListen_GuardRejectsUnreachableMedia(t *testing.T) {
	adapters, _, _, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.poll(adapter.RoleTV, adapter.ConnReachable)
	f.poll(adapter.RoleSpeaker, adapter.ConnReachable)
	f.poll(adapter.RoleMedia, adapter.ConnUnreachable)

	err := f.orch.SetActivity(context.Background(), ActivityListen, "req-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SetActivity(listen) error = %v, want ErrInvalidTransition", err)
	}
	if !strings.Contains(err.Error(), "media") {
		t.Errorf("error = %v, want mention of the media device", err)
	}
	if got := f.orch.State().Activity; got != ActivityOff {
		t.Errorf("activity = %q after rejected transition, want off", got)
	}
}

func TestWatchToListen_RollbackRestoresWatch(t *testing.T) {
	tv := adapter.NewSim(adapter.RoleTV)
	speaker := &flakyVolume{Sim: adapter.NewSim(adapter.RoleSpeaker)}
	media := adapter.NewSim(adapter.RoleMedia)
	f := newFixture(t, map[adapter.Role]adapter.Adapter{
		adapter.RoleTV: tv, adapter.RoleSpeaker: speaker, adapter.RoleMedia: media,
	}, nil)
	f.markAllReachable()

	if err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-1"); err != nil {
		t.Fatalf("SetActivity(watch) error = %v", err)
	}

	sub := f.bus.Subscribe(f.bus.LastSeq())
	defer f.bus.Unsubscribe(sub.ID)

	// The listen volume command times out through its whole retry
	// budget (2 attempts); the rollback's volume restore then succeeds.
	atomic.StoreInt32(&speaker.failures, 2)

	err := f.orch.SetActivity(context.Background(), ActivityListen, "req-2")
	if !errors.Is(err, ErrTransitionFailed) {
		t.Fatalf("SetActivity(listen) error = %v, want ErrTransitionFailed", err)
	}

	state := f.orch.State()
	if state.Activity != ActivityWatch {
		t.Errorf("activity = %q after rollback, want watch", state.Activity)
	}

	// Devices are back in their watch configuration.
	tvStatus, _ := tv.PollStatus(context.Background())
	if !tvStatus.Power {
		t.Error("tv not restored to powered on")
	}
	spStatus, _ := speaker.PollStatus(context.Background())
	if !spStatus.Power || spStatus.Volume != 20 || spStatus.Source != "Opt" {
		t.Errorf("speaker = %+v, want restored to on/20/Opt", spStatus)
	}

	ev := waitEvent(t, sub, events.KindTransitionFailed)
	payload := string(ev.Payload)
	if !strings.Contains(payload, `"role":"speaker"`) {
		t.Errorf("failed payload = %s, want role=speaker", payload)
	}
	if !strings.Contains(payload, "timed out") {
		t.Errorf("failed payload = %s, want timeout named", payload)
	}
}

func TestRollbackFailure_FailsClosedToOff(t *testing.T) {
	tv := adapter.NewSim(adapter.RoleTV)
	speaker := &flakyVolume{Sim: adapter.NewSim(adapter.RoleSpeaker)}
	media := adapter.NewSim(adapter.RoleMedia)
	f := newFixture(t, map[adapter.Role]adapter.Adapter{
		adapter.RoleTV: tv, adapter.RoleSpeaker: speaker, adapter.RoleMedia: media,
	}, nil)
	f.markAllReachable()

	if err := f.orch.SetActivity(context.Background(), ActivityWatch, "req-1"); err != nil {
		t.Fatalf("SetActivity(watch) error = %v", err)
	}

	// Every volume attempt fails: the listen command exhausts its
	// budget AND the rollback's restore fails too.
	atomic.StoreInt32(&speaker.failures, 100)

	err := f.orch.SetActivity(context.Background(), ActivityListen, "req-2")
	if !errors.Is(err, ErrTransitionFailed) {
		t.Fatalf("SetActivity(listen) error = %v, want ErrTransitionFailed", err)
	}

	state := f.orch.State()
	if state.Activity != ActivityOff {
		t.Errorf("activity = %q after failed rollback, want off (fail closed)", state.Activity)
	}
	if conn := state.Devices[adapter.RoleSpeaker].Connection; conn != adapter.ConnUnreachable {
		t.Errorf("speaker connection = %q, want marked unreachable", conn)
	}
}

func TestStartup_RevalidationForcesOff(t *testing.T) {
	adapters, tv, _, _ := simAdapters()
	tv.SetReachable(false)

	f := newFixture(t, adapters, &store.Snapshot{
		Activity: "watch",
		Volume:   20,
		Source:   "Opt",
	})

	if got := f.orch.State().Activity; got != ActivityOff {
		t.Errorf("activity = %q after revalidation, want off", got)
	}

	snap, err := f.snaps.Load("den")
	if err != nil || snap == nil {
		t.Fatalf("Load() = %v, %v; want snapshot", snap, err)
	}
	if snap.Activity != "off" {
		t.Errorf("persisted activity = %q, want off", snap.Activity)
	}
}

func TestStartup_RevalidationResumesWhenReachable(t *testing.T) {
	adapters, _, _, _ := simAdapters()

	f := newFixture(t, adapters, &store.Snapshot{
		Activity: "watch",
		Volume:   25,
		Source:   "Opt",
		Defaults: store.Defaults{WatchVolume: 25, ListenVolume: 30, ListenStation: "6 Music"},
	})

	state := f.orch.State()
	if state.Activity != ActivityWatch {
		t.Errorf("activity = %q, want restored watch", state.Activity)
	}
	if state.Volume != 25 {
		t.Errorf("volume = %d, want restored 25", state.Volume)
	}
	if state.Defaults.WatchVolume != 25 {
		t.Errorf("defaults.WatchVolume = %d, want restored 25", state.Defaults.WatchVolume)
	}
}

func TestEnterListen_StartsStation(t *testing.T) {
	tv := adapter.NewMock(adapter.RoleTV)
	speaker := adapter.NewMock(adapter.RoleSpeaker)
	media := adapter.NewMock(adapter.RoleMedia)
	f := newFixture(t, map[adapter.Role]adapter.Adapter{
		adapter.RoleTV: tv, adapter.RoleSpeaker: speaker, adapter.RoleMedia: media,
	}, nil)
	f.markAllReachable()

	if err := f.orch.SetActivity(context.Background(), ActivityListen, "req-1"); err != nil {
		t.Fatalf("SetActivity(listen) error = %v", err)
	}

	want := []string{"power:true", "source:6 Music", "media:play"}
	got := media.Calls()
	if len(got) != len(want) {
		t.Fatalf("media calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("media call[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSetVolume_PersistsAndClamps(t *testing.T) {
	adapters, _, speaker, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	if err := f.orch.SetVolume(context.Background(), 40, "req-1"); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	if got := f.orch.State().Volume; got != 40 {
		t.Errorf("volume = %d, want 40", got)
	}
	spStatus, _ := speaker.PollStatus(context.Background())
	if spStatus.Volume != 40 {
		t.Errorf("device volume = %d, want 40", spStatus.Volume)
	}

	snap, _ := f.snaps.Load("den")
	if snap == nil || snap.Volume != 40 {
		t.Errorf("snapshot = %+v, want volume 40", snap)
	}

	if err := f.orch.SetVolume(context.Background(), 101, "req-2"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetVolume(101) error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdjustVolume_StepsAndClamps(t *testing.T) {
	adapters, _, _, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	if err := f.orch.SetVolume(context.Background(), 1, "req-1"); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}

	got, err := f.orch.AdjustVolume(context.Background(), -VolumeStep, "req-2")
	if err != nil {
		t.Fatalf("AdjustVolume() error = %v", err)
	}
	if got != 0 {
		t.Errorf("AdjustVolume(-2) from 1 = %d, want clamped 0", got)
	}

	got, err = f.orch.AdjustVolume(context.Background(), VolumeStep, "req-3")
	if err != nil {
		t.Fatalf("AdjustVolume() error = %v", err)
	}
	if got != 2 {
		t.Errorf("AdjustVolume(+2) from 0 = %d, want 2", got)
	}
}

func TestMedia_RequiresListeningSession(t *testing.T) {
	adapters, _, _, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	err := f.orch.Media(context.Background(), adapter.MediaPause, "req-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Media() at off error = %v, want ErrInvalidTransition", err)
	}

	if err := f.orch.SetActivity(context.Background(), ActivityListen, "req-2"); err != nil {
		t.Fatalf("SetActivity(listen) error = %v", err)
	}
	if err := f.orch.Media(context.Background(), adapter.MediaPause, "req-3"); err != nil {
		t.Errorf("Media(pause) in listen error = %v", err)
	}
}

func TestUpdateDefaults_PatchesAndPersists(t *testing.T) {
	adapters, _, _, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	vol := 35
	station := "Jazz FM"
	got, err := f.orch.UpdateDefaults(DefaultsPatch{ListenVolume: &vol, ListenStation: &station})
	if err != nil {
		t.Fatalf("UpdateDefaults() error = %v", err)
	}
	if got.ListenVolume != 35 || got.ListenStation != "Jazz FM" {
		t.Errorf("defaults = %+v, want listen 35 / Jazz FM", got)
	}
	if got.WatchVolume != 20 {
		t.Errorf("WatchVolume = %d, want untouched 20", got.WatchVolume)
	}

	snap, _ := f.snaps.Load("den")
	if snap == nil || snap.Defaults.ListenStation != "Jazz FM" {
		t.Errorf("snapshot defaults = %+v, want persisted station", snap)
	}

	bad := 200
	if _, err := f.orch.UpdateDefaults(DefaultsPatch{WatchVolume: &bad}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("UpdateDefaults(200) error = %v, want ErrInvalidTransition", err)
	}
}

func TestSetActivity_UnknownTarget(t *testing.T) {
	adapters, _, _, _ := simAdapters()
	f := newFixture(t, adapters, nil)
	f.markAllReachable()

	err := f.orch.SetActivity(context.Background(), Activity("party"), "req-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetActivity(party) error = %v, want ErrInvalidTransition", err)
	}
}
