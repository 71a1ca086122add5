package progress

import (
	"context"

	"bookstream/internal/domain"
)

// Store persists listening positions, one record per item, last-write-wins.
// The playback controller is the single logical writer; reads happen once
// per item load plus the recent listing.
type Store interface {
	Get(ctx context.Context, itemID domain.ItemID) (domain.ProgressRecord, error)
	Set(ctx context.Context, rec domain.ProgressRecord) error
	ListRecent(ctx context.Context, limit int) ([]domain.ProgressRecord, error)
}

const defaultListLimit = 20
