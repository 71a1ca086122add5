package player

import (
	"fmt"
	"strings"
)

// EventType classifies signals from the playback surface. The three
// readiness variants exist because different runtimes fire them at
// different times (or not at all); the controller treats whichever
// arrives first as the readiness signal and ignores the rest.
type EventType int

const (
	EventDurationKnown EventType = iota
	EventBuffered
	EventPlaybackStarted
	EventTimeUpdate
	EventEnded
	EventError
)

var eventTypeNames = [...]string{
	"durationknown", "buffered", "started", "timeupdate", "ended", "error",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// ParseEventType maps a wire name from the device event feed.
func ParseEventType(raw string) (EventType, bool) {
	for i, name := range eventTypeNames {
		if name == strings.ToLower(strings.TrimSpace(raw)) {
			return EventType(i), true
		}
	}
	return 0, false
}

// Event is one signal from the audio device.
type Event struct {
	Type     EventType
	Position float64
	Duration float64
	Code     string // device error code, set for EventError
}

// Device is the single audio output owned by the controller. The
// production device is the remote playback surface bridged over the
// event feed and command broadcast; tests use in-memory fakes.
type Device interface {
	Play()
	Pause()
	SetPosition(seconds float64) error
	Position() float64
	Close() error
}

// IsReadiness reports whether the event can trigger the deferred seek.
func (e Event) IsReadiness() bool {
	switch e.Type {
	case EventDurationKnown, EventBuffered, EventPlaybackStarted:
		return true
	default:
		return false
	}
}
