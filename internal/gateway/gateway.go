package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"bookstream/internal/metrics"
)

var (
	// ErrMalformedRequest means the caller omitted the logical path.
	ErrMalformedRequest = errors.New("malformed proxy request")
	// ErrUpstreamUnreachable means the upstream connection could not be
	// established or timed out before response headers arrived.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// errRedirectLimit aborts the client's redirect chain after one hop.
var errRedirectLimit = errors.New("stopped after one redirect hop")

// Config is the immutable configuration of a Gateway. It is injected at
// construction so multiple gateways with different upstreams can coexist.
type Config struct {
	BaseURL        string
	PathPrefix     string
	Token          string
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 8 * time.Second
	}
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = 15 * time.Second
	}
	return c
}

// ProxyRequest is one logical upstream request. Never persisted.
type ProxyRequest struct {
	Method      string // defaults to GET
	Path        string // logical upstream path, required
	RangeHeader string // forwarded verbatim when non-empty
	Body        io.Reader
	ContentType string
}

// UpstreamResponse carries the upstream status and headers plus the
// unconsumed body stream. Callers own Body and must close it.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Gateway forwards logical upstream requests, attaching the configured
// bearer credential and following at most one redirect hop. It holds no
// per-request state; concurrent Forward calls are fully independent.
type Gateway struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	// Identity encoding keeps Content-Length and byte boundaries exact.
	transport.DisableCompression = true

	token := cfg.Token
	return &Gateway{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 1 {
					return errRedirectLimit
				}
				// Go strips Authorization on cross-host redirects, which
				// turns the second hop into a spurious 401/404. Re-attach
				// the credential and the original Range explicitly.
				if token != "" {
					req.Header.Set("Authorization", "Bearer "+token)
				}
				if r := via[0].Header.Get("Range"); r != "" {
					req.Header.Set("Range", r)
				}
				metrics.ProxyRedirectsTotal.Inc()
				return nil
			},
		},
	}
}

// Forward resolves the logical path against the configured upstream and
// issues the request. Upstream 4xx/5xx responses are not errors: the
// status, headers and body come back verbatim for the caller to relay.
func (g *Gateway) Forward(ctx context.Context, pr ProxyRequest) (*UpstreamResponse, error) {
	if strings.TrimSpace(pr.Path) == "" {
		return nil, ErrMalformedRequest
	}
	method := pr.Method
	if method == "" {
		method = http.MethodGet
	}

	target := JoinUpstreamPath(g.cfg.BaseURL, g.cfg.PathPrefix, pr.Path)
	req, err := http.NewRequestWithContext(ctx, method, target, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}
	if pr.RangeHeader != "" {
		req.Header.Set("Range", pr.RangeHeader)
	}
	if pr.ContentType != "" {
		req.Header.Set("Content-Type", pr.ContentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, errRedirectLimit) {
			return nil, fmt.Errorf("%w: redirect chain too long", ErrUpstreamUnreachable)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	g.logger.Debug("upstream response",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.String("range", pr.RangeHeader),
	)
	metrics.ProxyRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
