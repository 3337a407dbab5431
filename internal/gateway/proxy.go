// Package gateway forwards HTTP requests and WebSocket sessions to backend services.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"orderhub/internal/middleware"
	"orderhub/internal/model"

	"github.com/rs/zerolog"
)

// hopHeaders are the RFC 7230 hop-by-hop headers, which apply to a single
// connection and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy relays HTTP requests to a backend base URL.
type Proxy struct {
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProxy creates a proxy whose upstream calls are bounded by timeout. The
// client and its connection pool are shared by every request.
func NewProxy(timeout time.Duration, logger zerolog.Logger) *Proxy {
	return &Proxy{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        200,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
			// Redirects are the client's business.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		logger:  logger.With().Str("component", "proxy").Logger(),
	}
}

// Forward sends r to targetBaseURL + the escaped request path (with the raw
// query) and relays the backend's status, headers and body.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, targetBaseURL string) {
	target := strings.TrimRight(targetBaseURL, "/") + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		p.unavailable(w, r, target, err)
		return
	}
	out.ContentLength = r.ContentLength
	out.Header = r.Header.Clone()
	out.Header.Del("Host")
	out.Header.Del("Content-Length")
	removeHopHeaders(out.Header)
	if id := middleware.RequestIDFrom(r.Context()); id != "" {
		out.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := p.client.Do(out)
	if err != nil {
		p.unavailable(w, r, target, err)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	removeHopHeaders(header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Warn().
			Err(err).
			Str("request_id", middleware.RequestIDFrom(r.Context())).
			Str("target", target).
			Msg("response relay interrupted")
	}
}

func (p *Proxy) unavailable(w http.ResponseWriter, r *http.Request, target string, err error) {
	requestID := middleware.RequestIDFrom(r.Context())
	p.logger.Warn().
		Err(err).
		Str("request_id", requestID).
		Str("method", r.Method).
		Str("target", target).
		Msg("upstream unavailable")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{
		ErrorKind: model.KindUpstreamUnavailable,
		Detail:    "service unavailable",
		RequestID: requestID,
	})
}

// removeHopHeaders deletes hop-by-hop headers, including any named in Connection.
func removeHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
