package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bookstream/internal/domain"
)

type fakeDevice struct {
	mu         sync.Mutex
	pos        float64
	landOffset float64
	setCalls   []float64
	seekErr    error
	playing    bool
	pauses     int
	closed     bool
}

func (d *fakeDevice) Play() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = true
}

func (d *fakeDevice) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	d.pauses++
}

func (d *fakeDevice) SetPosition(seconds float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCalls = append(d.setCalls, seconds)
	if d.seekErr != nil {
		return d.seekErr
	}
	d.pos = seconds + d.landOffset
	return nil
}

func (d *fakeDevice) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) seeks() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.setCalls...)
}

func (d *fakeDevice) pauseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pauses
}

type fakeStore struct {
	mu   sync.Mutex
	recs map[domain.ItemID]domain.ProgressRecord
	sets int
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[domain.ItemID]domain.ProgressRecord)}
}

func (s *fakeStore) Get(_ context.Context, itemID domain.ItemID) (domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[itemID]
	if !ok {
		return domain.ProgressRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) Set(_ context.Context, rec domain.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ItemID] = rec
	s.sets++
	return nil
}

func (s *fakeStore) ListRecent(_ context.Context, _ int) ([]domain.ProgressRecord, error) {
	return nil, nil
}

func (s *fakeStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *fakeStore) record(id domain.ItemID) (domain.ProgressRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	return rec, ok
}

type fakeOpener struct {
	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{} // when set, Open blocks until the gate closes
}

func (o *fakeOpener) Open(_ context.Context, itemID domain.ItemID, _ domain.DeviceDescriptor) (domain.PlaySession, error) {
	o.mu.Lock()
	o.calls++
	gate := o.gate
	o.gate = nil
	err := o.err
	o.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.PlaySession{}, err
	}
	return domain.PlaySession{
		ID:     domain.SessionID("sess-" + string(itemID)),
		ItemID: itemID,
		Tracks: []domain.AudioTrack{{Index: 0, ContentURL: "/proxy?path=x"}},
	}, nil
}

func (o *fakeOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type fakeTone struct {
	mu     sync.Mutex
	active bool
	starts int
	stops  int
	err    error
}

func (t *fakeTone) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.active = true
	t.starts++
	return nil
}

func (t *fakeTone) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.stops++
}

func (t *fakeTone) Close() error { return nil }

type testRig struct {
	ctrl   *Controller
	device *fakeDevice
	store  *fakeStore
	opener *fakeOpener
	tone   *fakeTone
	clock  *MockClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		device: &fakeDevice{},
		store:  newFakeStore(),
		opener: &fakeOpener{},
		tone:   &fakeTone{},
		clock:  NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
	}
	rig.ctrl = NewController(ControllerConfig{
		Opener:     rig.opener,
		Store:      rig.store,
		Device:     rig.device,
		Tone:       rig.tone,
		Clock:      rig.clock,
		Descriptor: domain.DeviceDescriptor{DeviceID: "test-device"},
	})
	t.Cleanup(func() { _ = rig.ctrl.Close() })
	return rig
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestController_ResumeSeekAppliedExactlyOnce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_ = rig.store.Set(ctx, domain.ProgressRecord{ItemID: "book-1", Position: 300})

	if _, err := rig.ctrl.Load(ctx, "book-1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	gen := rig.ctrl.Generation()

	// Readiness signals arrive duplicated and out of order across runtimes.
	rig.ctrl.HandleEvent(gen, Event{Type: EventPlaybackStarted})
	rig.ctrl.HandleEvent(gen, Event{Type: EventDurationKnown, Duration: 7200})
	rig.ctrl.HandleEvent(gen, Event{Type: EventBuffered})
	rig.ctrl.HandleEvent(gen, Event{Type: EventPlaybackStarted})

	seeks := rig.device.seeks()
	if len(seeks) != 1 || seeks[0] != 300 {
		t.Fatalf("expected exactly one seek to 300, got %v", seeks)
	}
	snap := rig.ctrl.Snapshot()
	if snap.State != "seek_applied" {
		t.Errorf("state: expected seek_applied, got %s", snap.State)
	}
	if snap.Position != 300 {
		t.Errorf("position: expected 300, got %f", snap.Position)
	}
}

func TestController_NoStoredProgressSkipsSeek(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.ctrl.Load(ctx, "fresh-book"); err != nil {
		t.Fatalf("load: %v", err)
	}
	rig.ctrl.HandleEvent(rig.ctrl.Generation(), Event{Type: EventBuffered})

	if seeks := rig.device.seeks(); len(seeks) != 0 {
		t.Fatalf("expected no device seek, got %v", seeks)
	}
	snap := rig.ctrl.Snapshot()
	if snap.State != "seek_applied" || !snap.SeekApplied {
		t.Errorf("expected seek_applied with latch set, got %s applied=%v", snap.State, snap.SeekApplied)
	}
}

func TestController_ManualSeekWinsOverResume(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_ = rig.store.Set(ctx, domain.ProgressRecord{ItemID: "book-1", Position: 300})
	_, _ = rig.ctrl.Load(ctx, "book-1")
	gen := rig.ctrl.Generation()

	// The user jumps before the device even reports readiness.
	if _, err := rig.ctrl.Seek(42); err != nil {
		t.Fatalf("manual seek: %v", err)
	}
	rig.ctrl.HandleEvent(gen, Event{Type: EventBuffered})
	rig.ctrl.HandleEvent(gen, Event{Type: EventDurationKnown, Duration: 7200})

	seeks := rig.device.seeks()
	if len(seeks) != 1 || seeks[0] != 42 {
		t.Fatalf("expected only the manual seek to 42, got %v", seeks)
	}
	if pos := rig.ctrl.Snapshot().Position; pos != 42 {
		t.Errorf("position: expected 42, got %f", pos)
	}
}

func TestController_SeekMismatchStillCountsAsApplied(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.device.landOffset = 5 // device rounds far away from the target
	_ = rig.store.Set(ctx, domain.ProgressRecord{ItemID: "book-1", Position: 300})
	_, _ = rig.ctrl.Load(ctx, "book-1")

	rig.ctrl.HandleEvent(rig.ctrl.Generation(), Event{Type: EventBuffered})
	rig.ctrl.HandleEvent(rig.ctrl.Generation(), Event{Type: EventBuffered})

	if seeks := rig.device.seeks(); len(seeks) != 1 {
		t.Fatalf("mismatch must not trigger a retry, got seeks %v", seeks)
	}
	snap := rig.ctrl.Snapshot()
	if snap.State != "seek_applied" {
		t.Errorf("state: expected seek_applied, got %s", snap.State)
	}
	if snap.Position != 305 {
		t.Errorf("position should reflect where the device landed, got %f", snap.Position)
	}
}

func TestController_StaleGenerationEventsDiscarded(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _ = rig.ctrl.Load(ctx, "book-a")
	oldGen := rig.ctrl.Generation()
	_, _ = rig.ctrl.Load(ctx, "book-b")

	rig.ctrl.HandleEvent(oldGen, Event{Type: EventTimeUpdate, Position: 999})
	rig.ctrl.HandleEvent(oldGen, Event{Type: EventBuffered})

	snap := rig.ctrl.Snapshot()
	if snap.ItemID != "book-b" {
		t.Fatalf("expected book-b loaded, got %s", snap.ItemID)
	}
	if snap.Position != 0 {
		t.Errorf("stale time update leaked into position: %f", snap.Position)
	}
	if snap.State != "loading" {
		t.Errorf("stale readiness advanced the state to %s", snap.State)
	}
}

func TestController_OvertakenLoadDiscarded(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	gate := make(chan struct{})
	rig.opener.gate = gate

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rig.ctrl.Load(ctx, "slow-book")
	}()
	waitFor(t, "first open to start", func() bool { return rig.opener.callCount() == 1 })

	if _, err := rig.ctrl.Load(ctx, "fast-book"); err != nil {
		t.Fatalf("second load: %v", err)
	}
	close(gate)
	<-done

	snap := rig.ctrl.Snapshot()
	if snap.ItemID != "fast-book" {
		t.Fatalf("expected fast-book to win, got %s", snap.ItemID)
	}
	if snap.SessionID != "sess-fast-book" {
		t.Errorf("slow-book session overwrote the active one: %s", snap.SessionID)
	}
}

func TestController_ProgressWritesThrottled(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _ = rig.ctrl.Load(ctx, "book-1")
	gen := rig.ctrl.Generation()
	rig.ctrl.HandleEvent(gen, Event{Type: EventBuffered})

	rig.ctrl.HandleEvent(gen, Event{Type: EventTimeUpdate, Position: 10})
	if got := rig.store.setCount(); got != 1 {
		t.Fatalf("first eligible update should persist, got %d writes", got)
	}

	// Updates inside the throttle window are dropped.
	rig.ctrl.HandleEvent(gen, Event{Type: EventTimeUpdate, Position: 10.2})
	rig.clock.Advance(500 * time.Millisecond)
	rig.ctrl.HandleEvent(gen, Event{Type: EventTimeUpdate, Position: 10.5})
	if got := rig.store.setCount(); got != 1 {
		t.Fatalf("throttle window violated, got %d writes", got)
	}

	rig.clock.Advance(600 * time.Millisecond)
	rig.ctrl.HandleEvent(gen, Event{Type: EventTimeUpdate, Position: 11.1})
	if got := rig.store.setCount(); got != 2 {
		t.Fatalf("expected write after window elapsed, got %d", got)
	}
	rec, _ := rig.store.record("book-1")
	if rec.Position != 11.1 {
		t.Errorf("persisted position: expected 11.1, got %f", rec.Position)
	}
}

func TestController_NearZeroPositionNeverPersisted(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _ = rig.ctrl.Load(ctx, "book-1")
	gen := rig.ctrl.Generation()
	rig.ctrl.HandleEvent(gen, Event{Type: EventBuffered})

	for i := 0; i < 5; i++ {
		rig.ctrl.HandleEvent(gen, Event{Type: EventTimeUpdate, Position: 0.3})
		rig.clock.Advance(2 * time.Second)
	}
	if got := rig.store.setCount(); got != 0 {
		t.Fatalf("near-zero positions must not persist, got %d writes", got)
	}

	rig.ctrl.HandleEvent(gen, Event{Type: EventTimeUpdate, Position: 5})
	if got := rig.store.setCount(); got != 1 {
		t.Fatalf("real position should persist, got %d writes", got)
	}
}

func TestController_EndedPersistsFinalPosition(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _ = rig.ctrl.Load(ctx, "book-1")
	gen := rig.ctrl.Generation()
	rig.ctrl.HandleEvent(gen, Event{Type: EventBuffered})
	rig.ctrl.HandleEvent(gen, Event{Type: EventTimeUpdate, Position: 100})

	// Ended bypasses the throttle: the final position always lands.
	rig.ctrl.HandleEvent(gen, Event{Type: EventEnded, Position: 7199.5})

	snap := rig.ctrl.Snapshot()
	if snap.State != "finished" {
		t.Errorf("state: expected finished, got %s", snap.State)
	}
	rec, ok := rig.store.record("book-1")
	if !ok || rec.Position != 7199.5 {
		t.Errorf("expected final position 7199.5 persisted, got %+v", rec)
	}
}

func TestController_SleepTimerCycleAndExpiry(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _ = rig.ctrl.Load(ctx, "book-1")
	rig.ctrl.HandleEvent(rig.ctrl.Generation(), Event{Type: EventBuffered})
	rig.ctrl.Play()

	snap := rig.ctrl.CycleSleepTimer()
	if snap.SleepTimer != "5m" {
		t.Fatalf("expected 5m after first cycle, got %s", snap.SleepTimer)
	}
	if snap.SleepDeadline == nil {
		t.Fatal("expected a deadline while counting down")
	}

	rig.clock.Advance(5 * time.Minute)
	waitFor(t, "sleep expiry to pause playback", func() bool {
		s := rig.ctrl.Snapshot()
		return s.Paused && s.SleepTimer == "off"
	})
	if rig.device.pauseCount() == 0 {
		t.Error("expected the device paused on expiry")
	}
	if rig.ctrl.Snapshot().SleepDeadline != nil {
		t.Error("deadline should clear after expiry")
	}
}

func TestController_CyclingRestartsCountdown(t *testing.T) {
	rig := newTestRig(t)

	rig.ctrl.CycleSleepTimer() // 5m
	snap := rig.ctrl.CycleSleepTimer()
	if snap.SleepTimer != "10m" {
		t.Fatalf("expected 10m after second cycle, got %s", snap.SleepTimer)
	}

	rig.clock.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if rig.ctrl.Snapshot().Paused {
		t.Fatal("cancelled 5m countdown still fired")
	}

	rig.clock.Advance(5 * time.Minute)
	waitFor(t, "10m countdown to fire", func() bool {
		return rig.ctrl.Snapshot().Paused
	})
}

func TestController_SleepTimerFullCycleReturnsToOff(t *testing.T) {
	rig := newTestRig(t)

	want := []string{"5m", "10m", "15m", "30m", "45m", "60m", "off"}
	for i, expected := range want {
		snap := rig.ctrl.CycleSleepTimer()
		if snap.SleepTimer != expected {
			t.Fatalf("cycle %d: expected %s, got %s", i+1, expected, snap.SleepTimer)
		}
	}
	if rig.ctrl.Snapshot().SleepDeadline != nil {
		t.Error("off selection must not keep a deadline")
	}
}

func TestController_KeepAliveToneLifecycle(t *testing.T) {
	rig := newTestRig(t)

	if _, err := rig.ctrl.SetKeepAlive(true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	// Enabling twice must not restart the tone.
	_, _ = rig.ctrl.SetKeepAlive(true)
	if rig.tone.starts != 1 {
		t.Fatalf("expected one tone start, got %d", rig.tone.starts)
	}

	_, _ = rig.ctrl.SetKeepAlive(false)
	_, _ = rig.ctrl.SetKeepAlive(false)
	if rig.tone.stops != 1 {
		t.Fatalf("expected one tone stop, got %d", rig.tone.stops)
	}

	_, _ = rig.ctrl.SetKeepAlive(true)
	if rig.tone.starts != 2 {
		t.Errorf("re-enable should restart the tone, got %d starts", rig.tone.starts)
	}
}

func TestController_KeepAliveStartFailureSurfaces(t *testing.T) {
	rig := newTestRig(t)
	rig.tone.err = errors.New("no audio sink")

	snap, err := rig.ctrl.SetKeepAlive(true)
	if err == nil {
		t.Fatal("expected an error when the tone cannot start")
	}
	if snap.KeepAlive {
		t.Error("keep-alive flag must stay off after a failed start")
	}
}

func TestController_SessionOpenFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.opener.err = errors.New("upstream said no")

	snap, err := rig.ctrl.Load(context.Background(), "book-1")
	if err == nil {
		t.Fatal("expected load error")
	}
	if snap.State != "unavailable" || snap.ErrorCode != "session_open_failed" {
		t.Fatalf("expected unavailable/session_open_failed, got %s/%s", snap.State, snap.ErrorCode)
	}
	if rig.opener.callCount() != 1 {
		t.Errorf("controller must not retry the open, got %d calls", rig.opener.callCount())
	}
	if _, err := rig.ctrl.Seek(10); err == nil {
		t.Error("seek should be rejected while unavailable")
	}
}

func TestController_DeviceErrorFailsPlayback(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _ = rig.ctrl.Load(ctx, "book-1")
	gen := rig.ctrl.Generation()
	rig.ctrl.HandleEvent(gen, Event{Type: EventBuffered})
	rig.ctrl.HandleEvent(gen, Event{Type: EventError, Code: "decode_error"})

	snap := rig.ctrl.Snapshot()
	if snap.State != "failed" || snap.ErrorCode != "decode_error" {
		t.Fatalf("expected failed/decode_error, got %s/%s", snap.State, snap.ErrorCode)
	}
}

func TestController_OnChangePushesSnapshots(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	var mu sync.Mutex
	var states []string
	rig.ctrl.OnChange(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	_, _ = rig.ctrl.Load(ctx, "book-1")
	rig.ctrl.HandleEvent(rig.ctrl.Generation(), Event{Type: EventBuffered})

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 {
		t.Fatal("expected change notifications")
	}
	if last := states[len(states)-1]; last != "seek_applied" {
		t.Errorf("expected last notification seek_applied, got %s", last)
	}
}
