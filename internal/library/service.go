package library

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bookstream/internal/domain"
	"bookstream/internal/gateway"
	"bookstream/internal/metrics"
)

const (
	defaultCacheTTL = 5 * time.Minute
	// Upstream item listings are cheap but numerous; keep the fan-out civil.
	maxConcurrentFetches = 4
)

// Forwarder is the slice of the proxy gateway the library service needs.
type Forwarder interface {
	Forward(ctx context.Context, pr gateway.ProxyRequest) (*gateway.UpstreamResponse, error)
}

// Service reads library metadata through the gateway and caches decoded
// responses. Purely a convenience layer: playback never depends on it.
type Service struct {
	gw     Forwarder
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewService(gw Forwarder, cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, cache: cache, ttl: ttl, logger: logger}
}

type libraryListing struct {
	Libraries []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		MediaType string `json:"mediaType"`
	} `json:"libraries"`
}

type itemListing struct {
	Results []itemPayload `json:"results"`
}

type itemPayload struct {
	ID    string `json:"id"`
	Media struct {
		Metadata struct {
			Title      string `json:"title"`
			AuthorName string `json:"authorName"`
		} `json:"metadata"`
		Duration float64 `json:"duration"`
		CoverURL string  `json:"coverPath"`
		Chapters []struct {
			ID    int     `json:"id"`
			Title string  `json:"title"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"chapters"`
	} `json:"media"`
}

// Items returns every book across all upstream libraries, newest cache
// copy first. Library listings are fetched concurrently per library.
func (s *Service) Items(ctx context.Context) ([]domain.MediaItem, error) {
	const key = "items"
	if items, ok := s.cached(ctx, key); ok {
		return items, nil
	}

	var libs libraryListing
	if err := s.fetchJSON(ctx, "api/libraries", &libs); err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	if len(libs.Libraries) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var all []domain.MediaItem

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, lib := range libs.Libraries {
		lib := lib
		g.Go(func() error {
			var listing itemListing
			path := fmt.Sprintf("api/libraries/%s/items", lib.ID)
			if err := s.fetchJSON(gctx, path, &listing); err != nil {
				return fmt.Errorf("list items of %s: %w", lib.ID, err)
			}
			mu.Lock()
			for _, it := range listing.Results {
				all = append(all, toMediaItem(it))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Title < all[j].Title })
	s.store(ctx, key, all)
	return all, nil
}

// Item returns one book with chapters.
func (s *Service) Item(ctx context.Context, itemID domain.ItemID) (domain.MediaItem, error) {
	if itemID == "" {
		return domain.MediaItem{}, domain.ErrNotFound
	}
	key := "item:" + string(itemID)
	if items, ok := s.cached(ctx, key); ok && len(items) == 1 {
		return items[0], nil
	}

	var payload itemPayload
	if err := s.fetchJSON(ctx, fmt.Sprintf("api/items/%s", itemID), &payload); err != nil {
		return domain.MediaItem{}, err
	}
	item := toMediaItem(payload)
	s.store(ctx, key, []domain.MediaItem{item})
	return item, nil
}

func (s *Service) fetchJSON(ctx context.Context, path string, out any) error {
	resp, err := s.gw.Forward(ctx, gateway.ProxyRequest{
		Method: http.MethodGet,
		Path:   path,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned HTTP %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Service) cached(ctx context.Context, key string) ([]domain.MediaItem, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		// A broken cache degrades to a slower fetch, never to an error.
		s.logger.Warn("library cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		metrics.LibraryCacheRequests.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.LibraryCacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	var items []domain.MediaItem
	if err := json.Unmarshal(data, &items); err != nil {
		metrics.LibraryCacheRequests.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.LibraryCacheRequests.WithLabelValues("hit").Inc()
	return items, true
}

func (s *Service) store(ctx context.Context, key string, items []domain.MediaItem) {
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn("library cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func toMediaItem(p itemPayload) domain.MediaItem {
	item := domain.MediaItem{
		ID:       domain.ItemID(p.ID),
		Title:    p.Media.Metadata.Title,
		Author:   p.Media.Metadata.AuthorName,
		CoverURL: p.Media.CoverURL,
		Duration: p.Media.Duration,
	}
	for _, ch := range p.Media.Chapters {
		item.Chapters = append(item.Chapters, domain.Chapter{
			ID:    ch.ID,
			Title: ch.Title,
			Start: ch.Start,
			End:   ch.End,
		})
	}
	return item
}
