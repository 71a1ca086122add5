package apihttp

import (
	"sync"
)

// RemoteDevice bridges the controller to the actual playback surface (a
// browser audio element or companion app). Commands go out over the
// websocket broadcast; the surface reports back through the event feed,
// which keeps the observed position current.
type RemoteDevice struct {
	hub *wsHub

	mu       sync.Mutex
	position float64
}

func newRemoteDevice(hub *wsHub) *RemoteDevice {
	return &RemoteDevice{hub: hub}
}

func (d *RemoteDevice) Play() {
	d.hub.BroadcastCommand(wsCommand{Action: "play"})
}

func (d *RemoteDevice) Pause() {
	d.hub.BroadcastCommand(wsCommand{Action: "pause"})
}

// SetPosition records the target optimistically; the surface confirms
// through its next time update.
func (d *RemoteDevice) SetPosition(seconds float64) error {
	d.mu.Lock()
	d.position = seconds
	d.mu.Unlock()
	d.hub.BroadcastCommand(wsCommand{Action: "seek", Position: seconds})
	return nil
}

func (d *RemoteDevice) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// Observe updates the known position from an incoming device event.
func (d *RemoteDevice) Observe(position float64) {
	d.mu.Lock()
	d.position = position
	d.mu.Unlock()
}

func (d *RemoteDevice) Close() error {
	d.hub.BroadcastCommand(wsCommand{Action: "stop"})
	return nil
}
