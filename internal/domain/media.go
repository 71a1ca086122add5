package domain

// ItemID identifies a media item (an audiobook) in the upstream library.
type ItemID string

// Chapter is a named time range inside an audiobook.
type Chapter struct {
	ID    int     `json:"id"`
	Title string  `json:"title"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AudioTrack describes one playable file of an item. ContentURL is
// upstream-relative; callers route it through the proxy gateway.
type AudioTrack struct {
	Index      int     `json:"index"`
	Title      string  `json:"title"`
	ContentURL string  `json:"contentUrl"`
	MimeType   string  `json:"mimeType"`
	Duration   float64 `json:"duration"`
}

// MediaItem is the library-facing view of an audiobook. Immutable once
// fetched; playback only uses it as the key into the progress store.
type MediaItem struct {
	ID       ItemID    `json:"id"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	CoverURL string    `json:"coverUrl"`
	Duration float64   `json:"duration"`
	Chapters []Chapter `json:"chapters,omitempty"`
}
