package domain

import "time"

// SessionID is the upstream-issued playback session identifier. It is not
// stable across Open calls; callers must never cache it beyond the session.
type SessionID string

// DeviceDescriptor is sent upstream when opening a play session. DeviceID
// must be stable across restarts: upstreams that key active sessions by
// device identifier accumulate orphans otherwise.
type DeviceDescriptor struct {
	DeviceID           string   `json:"deviceId"`
	SupportedMimeTypes []string `json:"supportedMimeTypes"`
	ForceDirectPlay    bool     `json:"forceDirectPlay"`
}

// PlaySession is an upstream-side handle representing "this device is
// playing this item". There is no explicit expiry; upstream invalidation
// surfaces as an ordinary upstream error on the next request.
type PlaySession struct {
	ID        SessionID    `json:"id"`
	ItemID    ItemID       `json:"itemId"`
	Tracks    []AudioTrack `json:"tracks"`
	CreatedAt time.Time    `json:"createdAt"`
}
