package handlers

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/auth"
	"github.com/ukydev/fleet-usage/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	provider auth.IdentityProvider
	profiles auth.ProfileReader
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(provider auth.IdentityProvider, profiles auth.ProfileReader) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		profiles: profiles,
	}
}

// Login exchanges email and password for a bearer token.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if err := decodeJSON(r, &loginReq); err != nil {
		writeError(w, r, err)
		return
	}

	if strings.TrimSpace(loginReq.Email) == "" || loginReq.Password == "" {
		writeError(w, r, &models.ValidationError{Fields: map[string]string{
			"email":    "is required",
			"password": "is required",
		}})
		return
	}

	token, id, err := h.provider.Login(r.Context(), loginReq.Email, loginReq.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	// An identity without a profile has no role and cannot use the system.
	profile, err := h.profiles.FindProfileByID(r.Context(), id)
	if err != nil || profile == nil || !models.IsValidRole(profile.Role) {
		log.WithField("account_id", id).WithError(err).Warn("Login for identity without a usable profile")
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}

	log.WithFields(log.Fields{"account_id": id, "role": profile.Role}).Info("Login succeeded")
	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token:   token,
		Profile: *profile,
	})
}
