package auth

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/models"
)

// ProfileReader loads the local account of an identity.
type ProfileReader interface {
	FindProfileByID(ctx context.Context, id string) (*models.Profile, error)
}

// Resolver turns a bearer credential into the caller's identity.
type Resolver struct {
	provider IdentityProvider
	profiles ProfileReader
}

// NewResolver creates a Resolver.
func NewResolver(provider IdentityProvider, profiles ProfileReader) *Resolver {
	return &Resolver{provider: provider, profiles: profiles}
}

// Resolve returns the identity behind credential. It fails closed: an empty, invalid or
// expired credential, a missing profile or a profile with an unknown role all yield
// false, never an error.
func (r *Resolver) Resolve(ctx context.Context, credential string) (models.Identity, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if token == "" {
		return models.Identity{}, false
	}

	subject, err := r.provider.VerifyToken(ctx, token)
	if err != nil {
		log.WithError(err).Debug("Credential rejected")
		return models.Identity{}, false
	}
	profile, err := r.profiles.FindProfileByID(ctx, subject)
	if err != nil || profile == nil {
		log.WithField("subject", subject).WithError(err).Debug("No profile for identity")
		return models.Identity{}, false
	}
	if !models.IsValidRole(profile.Role) {
		log.WithFields(log.Fields{"subject": subject, "role": profile.Role}).Warn("Profile has an unknown role")
		return models.Identity{}, false
	}
	return models.Identity{ActorID: profile.ID, Role: profile.Role}, true
}
