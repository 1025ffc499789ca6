package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tally/internal/core"
	"tally/internal/identity"
	"tally/internal/log"
	"tally/internal/services"
)

const maxBodyBytes = 64 << 10

var (
	errMissingToken = errors.New("missing or unknown session token")
	errBadBody      = errors.New("malformed request body")
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON value from a bounded body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data", errBadBody)
	}
	return nil
}

// statusFor maps an operation error to a status and a message safe to return.
func statusFor(err error) (int, string) {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, identity.ErrEmailExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, identity.ErrFederatedUnavailable):
		return http.StatusNotImplemented, err.Error()
	case errors.Is(err, services.ErrNoSession), errors.Is(err, errMissingToken):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, services.ErrPendingWrite):
		return http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrNotReady):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, services.ErrCollaborator):
		return http.StatusBadGateway, "storage or identity service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	logger := log.FromContext(r.Context())
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op,
			log.NewFields().WithHTTPResponse(status, 0, false))
	} else {
		logger.DebugContext(r.Context(), "Request rejected", log.FieldOperation, op, log.FieldStatusCode, status, log.FieldError, err)
	}
	writeJSON(w, status, errorBody{Error: msg, RequestID: requestID(r)})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", RequestID: requestID(r)})
}
