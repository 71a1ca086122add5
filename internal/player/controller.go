package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"bookstream/internal/domain"
	"bookstream/internal/metrics"
	"bookstream/internal/progress"
)

// State is the controller's position in the playback lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateUnavailable
	StateSeekPending
	StateSeekApplied
	StateFinished
	StateFailed
)

var stateNames = [...]string{
	"idle", "loading", "unavailable", "seek_pending", "seek_applied", "finished", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

const (
	// A resume seek that lands within this window of the target counts as
	// applied. Container formats round seeks to frame boundaries.
	seekTolerance = 1.0
	// Positions at or below this are treated as "not really started" and
	// never persisted, so an accidental tap does not wipe a saved spot.
	positionEpsilon = 0.5
	// Minimum spacing between progress writes during steady playback.
	writeInterval = time.Second

	persistTimeout = 3 * time.Second
)

// SleepSteps is the cycle order for the sleep timer. Zero means off.
var SleepSteps = []time.Duration{
	0,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	45 * time.Minute,
	60 * time.Minute,
}

// SessionOpener is the slice of the negotiator the controller needs.
type SessionOpener interface {
	Open(ctx context.Context, itemID domain.ItemID, desc domain.DeviceDescriptor) (domain.PlaySession, error)
}

// Snapshot is an immutable view of controller state, serialized as-is on
// the state endpoint and pushed to websocket subscribers on every change.
type Snapshot struct {
	State         string              `json:"state"`
	ItemID        domain.ItemID       `json:"itemId,omitempty"`
	SessionID     domain.SessionID    `json:"sessionId,omitempty"`
	Generation    int                 `json:"generation"`
	Position      float64             `json:"position"`
	Duration      float64             `json:"duration"`
	Paused        bool                `json:"paused"`
	SeekApplied   bool                `json:"seekApplied"`
	SleepTimer    string              `json:"sleepTimer"`
	SleepDeadline *time.Time          `json:"sleepDeadline,omitempty"`
	KeepAlive     bool                `json:"keepAlive"`
	ErrorCode     string              `json:"errorCode,omitempty"`
	Tracks        []domain.AudioTrack `json:"tracks,omitempty"`
}

// Controller owns the single playback device and drives the resume
// lifecycle: open a session, wait for the device to become ready, apply
// the stored position exactly once, then persist progress as it moves.
//
// Every load increments a generation counter; device events carry the
// generation they were produced under, and events from a superseded
// generation are dropped. That makes rapid item switching safe without
// cancelling in-flight work.
type Controller struct {
	opener SessionOpener
	store  progress.Store
	device Device
	tone   ToneGenerator
	clock  Clock
	logger *slog.Logger
	desc   domain.DeviceDescriptor

	onChange func(Snapshot)

	mu         sync.Mutex
	generation int
	state      State
	itemID     domain.ItemID
	session    domain.PlaySession
	position   float64
	duration   float64
	paused     bool

	seekTarget  float64
	seekArmed   bool
	seekApplied bool

	lastWrite  time.Time
	hasWritten bool

	sleepIdx      int
	sleepDeadline time.Time
	sleepCancel   chan struct{}

	keepAlive bool
	errorCode string
}

// ControllerConfig collects the controller's collaborators. Opener,
// Store, Device and Tone are required; Clock and Logger default.
type ControllerConfig struct {
	Opener SessionOpener
	Store  progress.Store
	Device Device
	Tone   ToneGenerator
	Clock  Clock
	Logger *slog.Logger

	// Descriptor identifies this installation to the upstream when
	// opening sessions.
	Descriptor domain.DeviceDescriptor
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tone == nil {
		cfg.Tone = NoopTone{}
	}
	return &Controller{
		opener: cfg.Opener,
		store:  cfg.Store,
		device: cfg.Device,
		tone:   cfg.Tone,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		desc:   cfg.Descriptor,
		state:  StateIdle,
	}
}

// OnChange registers the snapshot listener. Must be called before the
// controller starts receiving events; there is exactly one listener.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Generation returns the current load generation, for tagging device
// events produced against the currently loaded item.
func (c *Controller) Generation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Load switches the controller to a new item: reads the stored position,
// opens an upstream session and leaves the controller in Loading until
// the device reports readiness. A Load that is overtaken by a newer Load
// before its session arrives is discarded silently.
func (c *Controller) Load(ctx context.Context, itemID domain.ItemID) (Snapshot, error) {
	if itemID == "" {
		return c.Snapshot(), fmt.Errorf("empty item id")
	}

	gen := c.beginLoad(itemID)

	rec, err := c.store.Get(ctx, itemID)
	if err == nil && rec.Position > positionEpsilon {
		c.armSeek(gen, rec.Position)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("progress lookup failed, starting from zero",
			slog.String("itemId", string(itemID)),
			slog.String("error", err.Error()),
		)
	}

	sess, err := c.opener.Open(ctx, itemID, c.desc)
	return c.completeLoad(gen, sess, err)
}

func (c *Controller) beginLoad(itemID domain.ItemID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.state = StateLoading
	c.itemID = itemID
	c.session = domain.PlaySession{}
	c.position = 0
	c.duration = 0
	c.paused = false
	c.seekTarget = 0
	c.seekArmed = false
	c.seekApplied = false
	c.hasWritten = false
	c.errorCode = ""
	return c.generation
}

func (c *Controller) armSeek(gen int, target float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.seekTarget = target
	c.seekArmed = true
}

func (c *Controller) completeLoad(gen int, sess domain.PlaySession, err error) (Snapshot, error) {
	c.mu.Lock()
	if gen != c.generation {
		// A newer Load took over while the session opened.
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	if err != nil {
		c.state = StateUnavailable
		c.errorCode = "session_open_failed"
		itemID := c.itemID
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Warn("item unavailable",
			slog.String("itemId", string(itemID)),
			slog.String("error", err.Error()),
		)
		c.notify(snap)
		return snap, err
	}
	c.session = sess
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return snap, nil
}

// HandleEvent ingests one device event tagged with the generation it was
// produced under. Events from superseded generations are discarded.
func (c *Controller) HandleEvent(gen int, ev Event) {
	var pending *domain.ProgressRecord

	c.mu.Lock()
	if gen != c.generation || c.state == StateIdle {
		c.mu.Unlock()
		return
	}

	switch {
	case ev.IsReadiness():
		if ev.Duration > 0 {
			c.duration = ev.Duration
		}
		c.applyDeferredSeekLocked()
	case ev.Type == EventTimeUpdate:
		c.position = ev.Position
		if ev.Duration > 0 {
			c.duration = ev.Duration
		}
		pending = c.throttledRecordLocked()
	case ev.Type == EventEnded:
		c.position = ev.Position
		c.state = StateFinished
		pending = c.recordLocked()
	case ev.Type == EventError:
		c.state = StateFailed
		c.errorCode = ev.Code
		c.logger.Error("playback failed",
			slog.String("itemId", string(c.itemID)),
			slog.String("code", ev.Code),
		)
	}

	snap := c.snapshotLocked()
	c.mu.Unlock()

	if pending != nil {
		c.persist(*pending)
	}
	c.notify(snap)
}

// applyDeferredSeekLocked runs on the first readiness event of a
// generation. Whatever readiness signal arrives later is a no-op: the
// seekApplied latch only resets on the next Load.
func (c *Controller) applyDeferredSeekLocked() {
	if c.state != StateLoading && c.state != StateSeekPending {
		return
	}
	if c.seekApplied {
		c.state = StateSeekApplied
		return
	}
	if !c.seekArmed {
		c.seekApplied = true
		c.state = StateSeekApplied
		return
	}

	c.state = StateSeekPending
	target := c.seekTarget
	c.seekApplied = true
	if err := c.device.SetPosition(target); err != nil {
		c.logger.Warn("resume seek rejected by device",
			slog.String("itemId", string(c.itemID)),
			slog.Float64("target", target),
			slog.String("error", err.Error()),
		)
	}
	landed := c.device.Position()
	if math.Abs(landed-target) > seekTolerance {
		metrics.SeekVerifyMismatches.Inc()
		c.logger.Warn("resume seek landed outside tolerance",
			slog.String("itemId", string(c.itemID)),
			slog.Float64("target", target),
			slog.Float64("landed", landed),
		)
	}
	c.position = landed
	c.state = StateSeekApplied
	metrics.SeeksAppliedTotal.WithLabelValues("resume").Inc()
}

// Seek is a user-initiated jump. It always wins over a pending resume
// seek: once the user has chosen a position, restoring the stored one
// would yank playback out from under them.
func (c *Controller) Seek(seconds float64) (Snapshot, error) {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateUnavailable || c.state == StateFailed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, fmt.Errorf("cannot seek in state %s", snap.State)
	}
	c.seekArmed = false
	c.seekApplied = true
	err := c.device.SetPosition(seconds)
	if err == nil {
		c.position = seconds
	}
	if c.state == StateSeekPending || c.state == StateFinished {
		c.state = StateSeekApplied
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		return snap, fmt.Errorf("device seek: %w", err)
	}
	metrics.SeeksAppliedTotal.WithLabelValues("manual").Inc()
	c.notify(snap)
	return snap, nil
}

// Play resumes the device.
func (c *Controller) Play() Snapshot {
	c.mu.Lock()
	c.paused = false
	c.device.Play()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return snap
}

// Pause halts the device without touching the keep-alive tone: the tone
// exists precisely to cover paused stretches.
func (c *Controller) Pause() Snapshot {
	c.mu.Lock()
	c.paused = true
	c.device.Pause()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return snap
}

// CycleSleepTimer advances the sleep selection one step. Any running
// countdown is cancelled and, if the new selection is not "off", a fresh
// countdown starts from now.
func (c *Controller) CycleSleepTimer() Snapshot {
	c.mu.Lock()
	c.sleepIdx = (c.sleepIdx + 1) % len(SleepSteps)
	c.cancelSleepLocked()

	d := SleepSteps[c.sleepIdx]
	if d > 0 {
		token := make(chan struct{})
		c.sleepCancel = token
		c.sleepDeadline = c.clock.Now().Add(d)
		go c.runSleepTimer(d, token)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("sleep timer set", slog.String("selection", snap.SleepTimer))
	c.notify(snap)
	return snap
}

func (c *Controller) cancelSleepLocked() {
	if c.sleepCancel != nil {
		close(c.sleepCancel)
		c.sleepCancel = nil
	}
	c.sleepDeadline = time.Time{}
}

func (c *Controller) runSleepTimer(d time.Duration, token chan struct{}) {
	select {
	case <-c.clock.After(d):
		c.sleepExpired(token)
	case <-token:
	}
}

func (c *Controller) sleepExpired(token chan struct{}) {
	c.mu.Lock()
	if c.sleepCancel != token {
		// Cancelled or replaced between the timer firing and the lock.
		c.mu.Unlock()
		return
	}
	c.sleepCancel = nil
	c.sleepDeadline = time.Time{}
	c.sleepIdx = 0
	c.paused = true
	c.device.Pause()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	metrics.SleepTimerExpiries.Inc()
	c.logger.Info("sleep timer expired, playback paused")
	c.notify(snap)
}

// SetKeepAlive switches the inaudible keep-alive tone. Idempotent: the
// tone starts and stops at most once per transition.
func (c *Controller) SetKeepAlive(enabled bool) (Snapshot, error) {
	c.mu.Lock()
	if enabled == c.keepAlive {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	if enabled {
		if err := c.tone.Start(); err != nil {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, fmt.Errorf("start keep-alive tone: %w", err)
		}
	} else {
		c.tone.Stop()
	}
	c.keepAlive = enabled
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return snap, nil
}

// Snapshot returns the current state for the state endpoint.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close releases the device and tone and stops any running countdown.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.cancelSleepLocked()
	c.mu.Unlock()

	err := c.device.Close()
	if terr := c.tone.Close(); err == nil {
		err = terr
	}
	return err
}

func (c *Controller) throttledRecordLocked() *domain.ProgressRecord {
	if c.state != StateSeekApplied {
		return nil
	}
	if c.position <= positionEpsilon {
		return nil
	}
	now := c.clock.Now()
	if c.hasWritten && now.Sub(c.lastWrite) < writeInterval {
		return nil
	}
	c.lastWrite = now
	c.hasWritten = true
	return c.recordLocked()
}

func (c *Controller) recordLocked() *domain.ProgressRecord {
	if c.position <= positionEpsilon {
		return nil
	}
	return &domain.ProgressRecord{
		ItemID:   c.itemID,
		Position: c.position,
		Duration: c.duration,
	}
}

func (c *Controller) persist(rec domain.ProgressRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Set(ctx, rec); err != nil {
		c.logger.Warn("progress write failed",
			slog.String("itemId", string(rec.ItemID)),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.ProgressWritesTotal.Inc()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       c.state.String(),
		ItemID:      c.itemID,
		SessionID:   c.session.ID,
		Generation:  c.generation,
		Position:    c.position,
		Duration:    c.duration,
		Paused:      c.paused,
		SeekApplied: c.seekApplied,
		SleepTimer:  sleepLabel(SleepSteps[c.sleepIdx]),
		KeepAlive:   c.keepAlive,
		ErrorCode:   c.errorCode,
		Tracks:      c.session.Tracks,
	}
	if !c.sleepDeadline.IsZero() {
		deadline := c.sleepDeadline
		snap.SleepDeadline = &deadline
	}
	return snap
}

func (c *Controller) notify(snap Snapshot) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func sleepLabel(d time.Duration) string {
	if d == 0 {
		return "off"
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
