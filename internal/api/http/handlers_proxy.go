package apihttp

import (
	"io"
	"log/slog"
	"net/http"

	"bookstream/internal/gateway"
	"bookstream/internal/metrics"
)

// handleProxy forwards the request to upstream and pipes the body back
// without buffering. Upstream's status, including 4xx/5xx, is relayed
// verbatim so players see exactly what the media host said.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	pr := gateway.ProxyRequest{
		Method:      r.Method,
		Path:        r.URL.Query().Get("path"),
		RangeHeader: r.Header.Get("Range"),
	}
	if r.Method == http.MethodPost {
		pr.Body = r.Body
		pr.ContentType = r.Header.Get("Content-Type")
	}

	resp, err := s.gw.Forward(r.Context(), pr)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	defer resp.Body.Close()

	copyProxyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, resp.Body)
	metrics.ProxyBytesStreamed.Add(float64(n))
	if err != nil {
		// Players abort range requests constantly while seeking; this is
		// routine, not an error.
		s.logger.Debug("proxy stream ended early",
			slog.String("path", pr.Path),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}
