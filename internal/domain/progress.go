package domain

import "time"

// ProgressRecord maps an item to its last listening position in seconds.
// Last-write-wins; read once at load time, written throttled during playback.
type ProgressRecord struct {
	ItemID    ItemID    `json:"itemId"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}
