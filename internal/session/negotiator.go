package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"bookstream/internal/domain"
	"bookstream/internal/gateway"
	"bookstream/internal/metrics"
)

// ErrSessionOpenFailed means the upstream would not establish a play
// session. Playback cannot start; callers render "unavailable" instead of
// retrying in a loop.
var ErrSessionOpenFailed = errors.New("session open failed")

// Forwarder is the slice of the proxy gateway the negotiator needs.
type Forwarder interface {
	Forward(ctx context.Context, pr gateway.ProxyRequest) (*gateway.UpstreamResponse, error)
}

// Negotiator opens upstream play sessions. Open is idempotent in effect
// (repeating it is safe) but not in identity: every call may mint a new
// session id, so callers never assume id stability across calls.
type Negotiator struct {
	gw      Forwarder
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func New(gw Forwarder, timeout time.Duration, logger *slog.Logger) *Negotiator {
	if timeout <= 0 {
		// Shorter than streaming requests: this call gates all playback.
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{gw: gw, timeout: timeout, logger: logger, now: time.Now}
}

type openRequest struct {
	DeviceInfo struct {
		DeviceID string `json:"deviceId"`
	} `json:"deviceInfo"`
	SupportedMimeTypes []string `json:"supportedMimeTypes"`
	ForceDirectPlay    bool     `json:"forceDirectPlay"`
}

type openResponse struct {
	ID          string `json:"id"`
	AudioTracks []struct {
		Index      int     `json:"index"`
		Title      string  `json:"title"`
		ContentURL string  `json:"contentUrl"`
		MimeType   string  `json:"mimeType"`
		Duration   float64 `json:"duration"`
	} `json:"audioTracks"`
}

// Open issues a single "start playback" request for the item and returns
// the resulting session with proxy-routed track locators.
func (n *Negotiator) Open(ctx context.Context, itemID domain.ItemID, desc domain.DeviceDescriptor) (domain.PlaySession, error) {
	if itemID == "" {
		return domain.PlaySession{}, fmt.Errorf("%w: empty item id", ErrSessionOpenFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var body openRequest
	body.DeviceInfo.DeviceID = desc.DeviceID
	body.SupportedMimeTypes = desc.SupportedMimeTypes
	body.ForceDirectPlay = desc.ForceDirectPlay

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.PlaySession{}, fmt.Errorf("%w: %v", ErrSessionOpenFailed, err)
	}

	resp, err := n.gw.Forward(ctx, gateway.ProxyRequest{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("api/items/%s/play", itemID),
		Body:        bytes.NewReader(payload),
		ContentType: "application/json",
	})
	if err != nil {
		metrics.SessionOpensTotal.WithLabelValues("unreachable").Inc()
		return domain.PlaySession{}, fmt.Errorf("%w: %v", ErrSessionOpenFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.SessionOpensTotal.WithLabelValues("upstream_error").Inc()
		// Drain a little for the log; the body is not replayed to callers.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		n.logger.Warn("play session rejected",
			slog.String("itemId", string(itemID)),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return domain.PlaySession{}, fmt.Errorf("%w: upstream returned HTTP %d", ErrSessionOpenFailed, resp.StatusCode)
	}

	var parsed openResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.SessionOpensTotal.WithLabelValues("bad_payload").Inc()
		return domain.PlaySession{}, fmt.Errorf("%w: decode response: %v", ErrSessionOpenFailed, err)
	}
	if parsed.ID == "" || len(parsed.AudioTracks) == 0 {
		metrics.SessionOpensTotal.WithLabelValues("bad_payload").Inc()
		return domain.PlaySession{}, fmt.Errorf("%w: response missing session id or tracks", ErrSessionOpenFailed)
	}

	tracks := make([]domain.AudioTrack, 0, len(parsed.AudioTracks))
	for _, tr := range parsed.AudioTracks {
		tracks = append(tracks, domain.AudioTrack{
			Index:      tr.Index,
			Title:      tr.Title,
			ContentURL: TrackLocator(tr.ContentURL),
			MimeType:   tr.MimeType,
			Duration:   tr.Duration,
		})
	}

	metrics.SessionOpensTotal.WithLabelValues("ok").Inc()
	n.logger.Info("play session opened",
		slog.String("itemId", string(itemID)),
		slog.String("sessionId", parsed.ID),
		slog.Int("tracks", len(tracks)),
	)

	return domain.PlaySession{
		ID:        domain.SessionID(parsed.ID),
		ItemID:    itemID,
		Tracks:    tracks,
		CreatedAt: n.now(),
	}, nil
}

// TrackLocator converts an upstream-relative content URL into the
// proxy-routed locator playback surfaces request ranges against.
func TrackLocator(contentURL string) string {
	return "/proxy?path=" + url.QueryEscape(contentURL)
}
