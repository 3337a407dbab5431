package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"orderhub/internal/middleware"
	"orderhub/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but don't expose it to the client
		return
	}
}

// writeRaw writes an already encoded JSON body.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError classifies err and writes the matching error body. Internal
// errors are logged in full and returned with an opaque detail.
func writeError(w http.ResponseWriter, r *http.Request, err error, logger zerolog.Logger) {
	kind := model.KindOf(err)
	status := model.HTTPStatus(kind)
	requestID := middleware.RequestIDFrom(r.Context())

	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).
		Str("request_id", requestID).
		Str("error_kind", string(kind)).
		Int("status", status).
		Msg("handler error")

	writeJSON(w, status, model.ErrorResponse{
		ErrorKind: kind,
		Detail:    model.DetailOf(err),
		RequestID: requestID,
	})
}

// pagination reads limit and offset query parameters. Bounds are applied by the services.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = 10, 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, model.NewDomainError(model.KindValidation, "invalid limit parameter")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			return 0, 0, model.NewDomainError(model.KindValidation, "invalid offset parameter")
		}
	}
	return limit, offset, nil
}

// idParam parses the {id} path parameter. Malformed ids are reported as missing.
func idParam(r *http.Request, notFound error) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, notFound
	}
	return id, nil
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.WrapError(model.KindValidation, "invalid request body", err)
	}
	return nil
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
