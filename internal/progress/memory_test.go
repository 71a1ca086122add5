package progress

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bookstream/internal/domain"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	store, err := NewMemoryStore(0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	for _, pos := range []float64{0, 0.1, 123.4, 86399.99} {
		rec := domain.ProgressRecord{ItemID: "item-1", Position: pos}
		if err := store.Set(ctx, rec); err != nil {
			t.Fatalf("set %f: %v", pos, err)
		}
		got, err := store.Get(ctx, "item-1")
		if err != nil {
			t.Fatalf("get after set %f: %v", pos, err)
		}
		if got.Position != pos {
			t.Errorf("position: expected %f, got %f", pos, got.Position)
		}
	}
}

func TestMemoryStore_LastWriteWins(t *testing.T) {
	store, _ := NewMemoryStore(0)
	ctx := context.Background()

	_ = store.Set(ctx, domain.ProgressRecord{ItemID: "item-1", Position: 100})
	_ = store.Set(ctx, domain.ProgressRecord{ItemID: "item-1", Position: 250.5})

	got, err := store.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Position != 250.5 {
		t.Errorf("expected last write 250.5, got %f", got.Position)
	}
}

func TestMemoryStore_MissingItem(t *testing.T) {
	store, _ := NewMemoryStore(0)
	_, err := store.Get(context.Background(), "never-seen")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CapacityEvictsOldest(t *testing.T) {
	store, _ := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id := domain.ItemID(fmt.Sprintf("item-%d", i))
		_ = store.Set(ctx, domain.ProgressRecord{ItemID: id, Position: float64(i)})
	}

	if _, err := store.Get(ctx, "item-0"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("expected oldest entry evicted")
	}
	if _, err := store.Get(ctx, "item-3"); err != nil {
		t.Errorf("newest entry missing: %v", err)
	}
}

func TestMemoryStore_ListRecentOrdersByUpdate(t *testing.T) {
	store, _ := NewMemoryStore(0)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []domain.ItemID{"a", "b", "c"} {
		_ = store.Set(ctx, domain.ProgressRecord{ItemID: id, Position: 1})
	}
	// Touch "a" again so it becomes the most recent.
	_ = store.Set(ctx, domain.ProgressRecord{ItemID: "a", Position: 2})

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].ItemID != "a" {
		t.Errorf("expected 'a' first, got %q", recent[0].ItemID)
	}
	if recent[1].ItemID != "c" {
		t.Errorf("expected 'c' second, got %q", recent[1].ItemID)
	}
}
