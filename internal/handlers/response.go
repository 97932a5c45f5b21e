package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/middleware"
	"github.com/ukydev/fleet-usage/internal/models"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind models.Kind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindConflict:
		return http.StatusConflict
	case models.KindUnauthorized:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the data the caller needs to correct the request.
// Unauthorized and external failures never carry detail; the cause of the latter is logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: kind.String()}

	var (
		alreadyOpen *models.SessionAlreadyOpenError
		notMonotone *models.NotMonotonicError
		belowStart  *models.BelowStartError
		invalid     *models.ValidationError
	)
	switch {
	case kind == models.KindUnauthorized:
		resp.Error = models.ErrUnauthorized.Error()
	case errors.As(err, &alreadyOpen):
		resp.Details = alreadyOpen.Existing
	case errors.As(err, &notMonotone):
		resp.Details = map[string]float64{"last_known": notMonotone.LastKnown}
	case errors.As(err, &belowStart):
		resp.Details = map[string]float64{"start": belowStart.Start}
	case errors.As(err, &invalid):
		resp.Details = invalid.Fields
	case kind == models.KindExternal:
		log.WithField("path", r.URL.Path).WithError(err).Warn("External dependency failed")
		resp.Error = models.ErrExternal.Error()
	case kind == models.KindUnknown:
		log.WithField("path", r.URL.Path).WithError(err).Error("Request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, statusFor(kind), resp)
}

// decodeJSON reads the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// actorFrom returns the resolved caller, writing 401 when there is none.
func actorFrom(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
	}
	return identity, ok
}
