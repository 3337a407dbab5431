package router

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"orderhub/internal/middleware"
	"orderhub/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Forwarder relays an HTTP request to a backend base URL.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, targetBaseURL string)
}

// Tunneler relays a WebSocket session to a backend URL.
type Tunneler interface {
	Serve(w http.ResponseWriter, r *http.Request, backendURL string)
}

// NewGatewayRouter creates the gateway router. routes maps the {service}
// segment of /api/v1/{service}/... to a backend base URL and is read-only
// after startup.
func NewGatewayRouter(
	routes map[string]string,
	wsBaseURL string,
	proxy Forwarder,
	tunnel Tunneler,
	logger zerolog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	forward := func(w http.ResponseWriter, req *http.Request) {
		service := chi.URLParam(req, "service")
		base, ok := routes[service]
		if !ok {
			logger.Debug().Str("service", service).Str("path", req.URL.Path).Msg("unknown service")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(model.ErrorResponse{
				ErrorKind: model.KindNotFound,
				Detail:    "unknown service: " + service,
				RequestID: middleware.RequestIDFrom(req.Context()),
			})
			return
		}
		proxy.Forward(w, req, base)
	}
	r.HandleFunc("/api/v1/{service}", forward)
	r.HandleFunc("/api/v1/{service}/*", forward)

	wsBase := strings.TrimRight(wsBaseURL, "/")
	r.Get("/ws/{client_id}", func(w http.ResponseWriter, req *http.Request) {
		tunnel.Serve(w, req, wsBase+"/ws/"+url.PathEscape(chi.URLParam(req, "client_id")))
	})

	return r
}
