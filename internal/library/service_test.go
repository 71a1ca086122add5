package library

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"bookstream/internal/domain"
	"bookstream/internal/gateway"
)

type fakeForwarder struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

func newFakeForwarder() *fakeForwarder {
	return &fakeForwarder{
		responses: make(map[string]string),
		calls:     make(map[string]int),
	}
}

func (f *fakeForwarder) Forward(_ context.Context, pr gateway.ProxyRequest) (*gateway.UpstreamResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[pr.Path]++
	body, ok := f.responses[pr.Path]
	if !ok {
		return &gateway.UpstreamResponse{
			StatusCode: http.StatusNotFound,
			Header:     http.Header{},
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}
	return &gateway.UpstreamResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}, nil
}

func (f *fakeForwarder) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

const librariesJSON = `{"libraries":[
	{"id":"lib-1","name":"Audiobooks","mediaType":"book"},
	{"id":"lib-2","name":"More Audiobooks","mediaType":"book"}
]}`

const lib1ItemsJSON = `{"results":[
	{"id":"item-b","media":{"metadata":{"title":"Beta","authorName":"Someone"},"duration":3600}}
]}`

const lib2ItemsJSON = `{"results":[
	{"id":"item-a","media":{"metadata":{"title":"Alpha","authorName":"Else"},"duration":7200}}
]}`

const itemDetailJSON = `{"id":"item-a","media":{
	"metadata":{"title":"Alpha","authorName":"Else"},
	"duration":7200,
	"chapters":[{"id":0,"title":"Opening","start":0,"end":1800}]
}}`

func newTestService(t *testing.T) (*Service, *fakeForwarder) {
	t.Helper()
	fw := newFakeForwarder()
	fw.responses["api/libraries"] = librariesJSON
	fw.responses["api/libraries/lib-1/items"] = lib1ItemsJSON
	fw.responses["api/libraries/lib-2/items"] = lib2ItemsJSON
	fw.responses["api/items/item-a"] = itemDetailJSON
	return NewService(fw, NewMemoryCache(), time.Minute, nil), fw
}

func TestService_ItemsMergesAllLibraries(t *testing.T) {
	svc, _ := newTestService(t)

	items, err := svc.Items(context.Background())
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items across libraries, got %d", len(items))
	}
	if items[0].Title != "Alpha" || items[1].Title != "Beta" {
		t.Errorf("expected sorted titles [Alpha Beta], got [%s %s]", items[0].Title, items[1].Title)
	}
}

func TestService_ItemsServedFromCache(t *testing.T) {
	svc, fw := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Items(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := svc.Items(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := fw.callCount("api/libraries"); got != 1 {
		t.Errorf("expected one upstream listing fetch, got %d", got)
	}
}

func TestService_ItemDetailDecodesChapters(t *testing.T) {
	svc, _ := newTestService(t)

	item, err := svc.Item(context.Background(), "item-a")
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if item.Author != "Else" || item.Duration != 7200 {
		t.Errorf("unexpected item fields: %+v", item)
	}
	if len(item.Chapters) != 1 || item.Chapters[0].Title != "Opening" {
		t.Errorf("expected one chapter 'Opening', got %+v", item.Chapters)
	}
}

func TestService_UnknownItemIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Item(context.Background(), "never-seen")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCache_ExpiresEntries(t *testing.T) {
	cache := NewMemoryCache()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Minute)

	if _, ok, _ := cache.Get(ctx, "k"); !ok {
		t.Fatal("expected fresh entry present")
	}
	now = base.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("expected entry expired")
	}
}
