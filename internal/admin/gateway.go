// Package admin applies the role policy to account and asset mutations.
//
// Account creation touches two systems: the identity provider and the profile store.
// It runs as a two-step saga; when the profile write fails the identity is deleted again,
// on a context detached from the caller so a cancelled request still rolls back.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/auth"
	"github.com/ukydev/fleet-usage/internal/db"
	"github.com/ukydev/fleet-usage/internal/events"
	"github.com/ukydev/fleet-usage/internal/models"
	"github.com/ukydev/fleet-usage/internal/policy"
)

// Store is the persistence the gateway needs.
type Store interface {
	db.AssetCollection
	db.ProfileCollection
}

// Gateway performs administrative mutations.
type Gateway struct {
	provider            auth.IdentityProvider
	store               Store
	events              events.Publisher
	now                 func() time.Time
	compensationTimeout time.Duration
	log                 log.FieldLogger
}

// NewGateway creates a Gateway. A nil publisher disables events.
func NewGateway(provider auth.IdentityProvider, store Store, publisher events.Publisher) *Gateway {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Gateway{
		provider:            provider,
		store:               store,
		events:              publisher,
		now:                 time.Now,
		compensationTimeout: 15 * time.Second,
		log:                 log.WithField("component", "admin"),
	}
}

// CreateAccountInput is a new account.
type CreateAccountInput struct {
	Name     string      `json:"name" validate:"required"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     models.Role `json:"role" validate:"required,role"`
}

// CreateAccount creates the external identity and then the profile keyed to it. If the
// profile cannot be written the identity is deleted before returning.
func (g *Gateway) CreateAccount(ctx context.Context, actor models.Identity, in CreateAccountInput) (*models.Profile, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = auth.NormalizeEmail(in.Email)
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	if !policy.CanCreate(actor.Role, in.Role) {
		return nil, models.ErrPermissionDenied
	}
	return g.provision(ctx, actor.ActorID, in)
}

// Bootstrap creates the first fleet-admin account. It does nothing and returns nil, nil
// when a fleet-admin already exists.
func (g *Gateway) Bootstrap(ctx context.Context, name, email, password string) (*models.Profile, error) {
	admins, err := g.store.FindProfiles(ctx, models.RoleFleetAdmin)
	if err != nil {
		return nil, err
	}
	if len(admins) > 0 {
		return nil, nil
	}
	in := CreateAccountInput{
		Name:     strings.TrimSpace(name),
		Email:    auth.NormalizeEmail(email),
		Password: password,
		Role:     models.RoleFleetAdmin,
	}
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	return g.provision(ctx, "bootstrap", in)
}

// provision runs the two-step saga for an already authorized, validated input.
func (g *Gateway) provision(ctx context.Context, actorID string, in CreateAccountInput) (*models.Profile, error) {
	id, err := g.provider.CreateIdentity(ctx, in.Email, in.Password)
	if err != nil {
		kind := models.KindOf(err)
		if kind == models.KindUnknown {
			err = fmt.Errorf("%w: %v", models.ErrIdentityProvider, err)
		}
		if kind == models.KindUnknown || kind == models.KindExternal {
			g.removeOrphan(ctx, in.Email, err)
		}
		return nil, err
	}

	now := g.now().UTC()
	profile := models.Profile{
		ID:        id,
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ctx.Err(); err != nil {
		return nil, g.compensate(ctx, id, err)
	}
	if err := g.store.InsertProfile(ctx, profile); err != nil {
		return nil, g.compensate(ctx, id, err)
	}

	g.log.WithFields(log.Fields{
		"actor_id":   actorID,
		"account_id": id,
		"role":       in.Role,
	}).Info("Account created")
	events.Emit(ctx, g.events, events.Event{
		Type:    events.AccountCreated,
		ActorID: actorID,
		Data:    map[string]any{"account_id": id, "role": in.Role},
	})
	return &profile, nil
}

// compensate deletes the identity created for a profile that could not be written.
func (g *Gateway) compensate(ctx context.Context, identityID string, cause error) error {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.compensationTimeout)
	defer cancel()

	entry := g.log.WithFields(log.Fields{"account_id": identityID, "cause": cause.Error()})
	if err := g.provider.DeleteIdentity(rollbackCtx, identityID); err != nil {
		entry.WithError(err).Error("Rollback of identity failed; identity is orphaned")
		return fmt.Errorf("%w: create profile: %v; rollback failed: %v", models.ErrExternal, cause, err)
	}
	entry.Info("Identity rolled back after profile write failed")
	return fmt.Errorf("%w: create profile: %v", models.ErrExternal, cause)
}

// removeOrphan handles a create call whose outcome is unknown, such as a timeout after the
// provider committed. An identity registered for email without a profile is deleted.
func (g *Gateway) removeOrphan(ctx context.Context, email string, cause error) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.compensationTimeout)
	defer cancel()

	entry := g.log.WithFields(log.Fields{"email": email, "cause": cause.Error()})
	id, err := g.provider.FindIdentityByEmail(rollbackCtx, email)
	if err != nil {
		entry.WithError(err).Error("Identity creation outcome unknown; an identity may be orphaned")
		return
	}
	if id == "" {
		return
	}
	entry = entry.WithField("account_id", id)
	_, err = g.store.FindProfileByID(rollbackCtx, id)
	if err == nil {
		return
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		entry.WithError(err).Error("Identity creation outcome unknown; an identity may be orphaned")
		return
	}
	if err := g.provider.DeleteIdentity(rollbackCtx, id); err != nil {
		entry.WithError(err).Error("Rollback of identity failed; identity is orphaned")
		return
	}
	entry.Info("Identity rolled back after create failed")
}

// UpdateAccount applies a name and/or role patch to a profile as a single write. The
// policy is checked against the profile as read inside the write transaction, and the
// whole patch is rejected when any part of it is not permitted.
func (g *Gateway) UpdateAccount(ctx context.Context, actor models.Identity, targetID string, patch models.ProfilePatch) (*models.Profile, error) {
	if patch.IsEmpty() {
		return nil, models.NewValidationError("patch", "nothing to update")
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, models.NewValidationError("name", "is required")
		}
		patch.Name = &name
	}
	if patch.Role != nil && !models.IsValidRole(*patch.Role) {
		return nil, models.NewValidationError("role", "has an unknown value")
	}

	updated, err := g.store.UpdateProfile(ctx, targetID, patch, func(current models.Profile) error {
		return policy.AuthorizeUpdate(actor, current, patch)
	})
	if err != nil {
		if models.KindOf(err) == models.KindUnauthorized {
			g.log.WithFields(log.Fields{
				"actor_id":  actor.ActorID,
				"target_id": targetID,
			}).WithError(err).Info("Account update denied")
		}
		return nil, err
	}
	g.log.WithFields(log.Fields{
		"actor_id":  actor.ActorID,
		"target_id": targetID,
		"role":      updated.Role,
	}).Info("Account updated")
	events.Emit(ctx, g.events, events.Event{
		Type:    events.AccountUpdated,
		ActorID: actor.ActorID,
		Data:    map[string]any{"account_id": targetID, "role": updated.Role},
	})
	return updated, nil
}

// ListAccounts returns the accounts the actor may manage: everyone for fleet-admin,
// operators for director and manager.
func (g *Gateway) ListAccounts(ctx context.Context, actor models.Identity) ([]models.Profile, error) {
	switch {
	case actor.Role == models.RoleFleetAdmin:
		return g.store.FindProfiles(ctx)
	case actor.Role.IsManagerTier():
		return g.store.FindProfiles(ctx, models.RoleOperator)
	default:
		return nil, models.ErrPermissionDenied
	}
}

// Me returns the actor's own profile.
func (g *Gateway) Me(ctx context.Context, actor models.Identity) (*models.Profile, error) {
	return g.store.FindProfileByID(ctx, actor.ActorID)
}

// AssetInput registers an asset.
type AssetInput struct {
	Plate          string           `json:"plate" validate:"required"`
	Name           string           `json:"name" validate:"required"`
	Category       string           `json:"category"`
	MeterKind      models.MeterKind `json:"meter_kind" validate:"required,meterkind"`
	InitialReading *float64         `json:"initial_reading" validate:"omitempty,gte=0"`
	Year           int              `json:"year" validate:"omitempty,gte=1900"`
	Color          string           `json:"color"`
	Notes          string           `json:"notes"`
}

// CreateAsset registers an asset. Manager tier or above.
func (g *Gateway) CreateAsset(ctx context.Context, actor models.Identity, in AssetInput) (*models.Asset, error) {
	if !policy.CanManageFleet(actor.Role) {
		return nil, models.ErrPermissionDenied
	}
	in.Plate = models.NormalizePlate(in.Plate)
	in.Name = strings.TrimSpace(in.Name)
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	asset, err := g.store.InsertAsset(ctx, models.Asset{
		Plate:          in.Plate,
		Name:           in.Name,
		Category:       strings.TrimSpace(in.Category),
		MeterKind:      in.MeterKind,
		InitialReading: in.InitialReading,
		Year:           in.Year,
		Color:          strings.TrimSpace(in.Color),
		Notes:          in.Notes,
	})
	if err != nil {
		return nil, err
	}
	g.log.WithFields(log.Fields{
		"actor_id": actor.ActorID,
		"asset_id": asset.ID,
		"plate":    asset.Plate,
	}).Info("Asset registered")
	events.Emit(ctx, g.events, events.Event{
		Type:    events.AssetRegistered,
		AssetID: asset.ID,
		ActorID: actor.ActorID,
		Data:    asset,
	})
	return asset, nil
}

// UpdateAsset edits the descriptive fields of an asset. The meter kind cannot change.
// Manager tier or above.
func (g *Gateway) UpdateAsset(ctx context.Context, actor models.Identity, id string, patch models.AssetPatch) (*models.Asset, error) {
	if !policy.CanManageFleet(actor.Role) {
		return nil, models.ErrPermissionDenied
	}
	asset, err := g.store.FindAssetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(asset)
	if asset.Plate == "" {
		return nil, models.NewValidationError("plate", "is required")
	}
	if asset.Name == "" {
		return nil, models.NewValidationError("name", "is required")
	}
	if err := g.store.UpdateAsset(ctx, *asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// ListAssets returns every asset.
func (g *Gateway) ListAssets(ctx context.Context) ([]models.Asset, error) {
	return g.store.FindAssets(ctx)
}

// GetAsset returns one asset.
func (g *Gateway) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return g.store.FindAssetByID(ctx, id)
}
