package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/gemini-chat/internal/metrics"
	"github.com/MegaGrindStone/gemini-chat/internal/models"
	"github.com/MegaGrindStone/gemini-chat/internal/services"
)

// maxRelayBody caps the relay request body.
const maxRelayBody = 1 << 20

// HandleRelay forwards one message to the upstream provider with the caller's credential and maps the
// outcome to a JSON envelope.
//
// Only POST is accepted; the body is never read for other methods. Both "message" and "apiKey" are
// required. A provider failure status is forwarded to the caller with a fixed error body, a success
// without text is reported as 500, and a provider that can't be reached is reported as 502. The handler
// keeps no state between calls.
func (m Main) HandleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		metrics.RelayRequests.WithLabelValues("method_not_allowed").Inc()
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, models.RelayError{Error: models.RelayErrMethodNotAllowed})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRelayBody)

	var req models.RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RelayRequests.WithLabelValues("bad_request").Inc()
			writeJSON(w, http.StatusRequestEntityTooLarge, models.RelayError{Error: models.RelayErrBodyTooLarge})
			return
		}
		m.logger.Debug("Invalid relay body", slog.String(errLoggerKey, err.Error()))
		metrics.RelayRequests.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, models.RelayError{Error: models.RelayErrMissingParameters})
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.APIKey) == "" {
		metrics.RelayRequests.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, models.RelayError{Error: models.RelayErrMissingParameters})
		return
	}

	start := time.Now()
	text, err := m.upstream.Relay(r.Context(), req.APIKey, req.Message)
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		status, msg, result := relayFailure(err)
		metrics.RelayRequests.WithLabelValues(result).Inc()

		attrs := []any{
			slog.Int("status", status),
			slog.String(errLoggerKey, err.Error()),
		}
		var upErr *services.UpstreamError
		if errors.As(err, &upErr) && upErr.Body != "" {
			attrs = append(attrs, slog.String("upstreamBody", upErr.Body))
		}
		m.logger.Warn("Relay failed", attrs...)

		writeJSON(w, status, models.RelayError{Error: msg})
		return
	}

	metrics.RelayRequests.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, models.RelayResponse{
		Success:  true,
		Response: text,
	})
}

// relayFailure maps an upstream error to the status, envelope message and metrics label of the reply.
func relayFailure(err error) (int, string, string) {
	var upErr *services.UpstreamError
	switch {
	case errors.As(err, &upErr):
		return forwardableStatus(upErr.StatusCode), models.RelayErrRequestFailed, "upstream_error"
	case errors.Is(err, services.ErrInvalidResponse):
		return http.StatusInternalServerError, models.RelayErrInvalidResponse, "invalid_response"
	default:
		return http.StatusBadGateway, models.RelayErrRequestFailed, "transport_error"
	}
}

// forwardableStatus keeps the provider status when it can be written as a final response status, and
// falls back to 502 for informational or malformed codes.
func forwardableStatus(code int) int {
	if code >= 200 && code <= 599 {
		return code
	}
	return http.StatusBadGateway
}
