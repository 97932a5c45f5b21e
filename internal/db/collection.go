package db

import (
	"context"
	"time"

	"github.com/ukydev/fleet-usage/internal/models"
)

// OpenGuard decides, inside the store transaction, whether a session may be opened
// given the asset's meter history and the profile of the session's operator, which is nil
// when no such account exists. A non-nil error aborts the insert and is returned as is.
type OpenGuard func(h models.MeterHistory, operator *models.Profile) error

// CloseGuard decides, inside the store transaction, whether the open session may be
// finalized.
type CloseGuard func(open models.UsageSession) error

// ProfileGuard decides, inside the store transaction, whether a patch may be applied to
// the profile as currently stored.
type ProfileGuard func(current models.Profile) error

// CloseRequest finalizes the open session of an asset.
type CloseRequest struct {
	AssetID       string
	ClosedBy      string
	EndMeterValue float64
	ClosedAt      time.Time
}

// AssetCollection defines the interface for asset data operations.
type AssetCollection interface {
	InsertAsset(ctx context.Context, asset models.Asset) (*models.Asset, error)
	FindAssetByID(ctx context.Context, id string) (*models.Asset, error)
	FindAssets(ctx context.Context) ([]models.Asset, error)
	UpdateAsset(ctx context.Context, asset models.Asset) error
}

// SessionCollection defines the interface for usage session operations.
//
// Implementations must guarantee at commit time that an asset never has two open
// sessions, independently of the guard, and report that violation as
// *models.SessionAlreadyOpenError.
type SessionCollection interface {
	OpenSession(ctx context.Context, session models.UsageSession, guard OpenGuard) (*models.UsageSession, error)
	CloseSession(ctx context.Context, req CloseRequest, guard CloseGuard) (*models.UsageSession, error)
	// FindOpenSession returns nil, nil when the asset has no open session.
	FindOpenSession(ctx context.Context, assetID string) (*models.UsageSession, error)
	FindOpenSessions(ctx context.Context) ([]models.UsageSession, error)
	MeterHistory(ctx context.Context, assetID string) (models.MeterHistory, error)
	LastUsePerAsset(ctx context.Context) ([]models.LastUse, error)
}

// PlanCollection defines the interface for maintenance plan operations.
type PlanCollection interface {
	UpsertPlan(ctx context.Context, plan models.MaintenancePlan) error
	// FindPlan returns nil, nil when the asset has no plan.
	FindPlan(ctx context.Context, assetID string) (*models.MaintenancePlan, error)
	FindPlans(ctx context.Context) ([]models.MaintenancePlan, error)
}

// ServiceLogCollection defines the interface for service log operations.
type ServiceLogCollection interface {
	InsertServiceLog(ctx context.Context, log models.ServiceLog) (*models.ServiceLog, error)
	UpdateServiceLog(ctx context.Context, id string, patch models.ServicePatch) (*models.ServiceLog, error)
	DeleteServiceLog(ctx context.Context, id string) error
	FindServiceLogByID(ctx context.Context, id string) (*models.ServiceLog, error)
	// FindServiceLogs returns the asset's logs, most recent first.
	FindServiceLogs(ctx context.Context, assetID string) ([]models.ServiceLog, error)
	// LatestServiceLog returns nil, nil when the asset was never serviced.
	LatestServiceLog(ctx context.Context, assetID string) (*models.ServiceLog, error)
}

// FuelCollection defines the interface for the append-only fuel ledger.
type FuelCollection interface {
	InsertFuelEvent(ctx context.Context, event models.FuelEvent) (*models.FuelEvent, error)
	// FindFuelEvents returns matching events, most recent first.
	FindFuelEvents(ctx context.Context, filter models.FuelFilter) ([]models.FuelEvent, error)
}

// ProfileCollection defines the interface for account profile operations.
type ProfileCollection interface {
	InsertProfile(ctx context.Context, profile models.Profile) error
	FindProfileByID(ctx context.Context, id string) (*models.Profile, error)
	// FindProfiles returns profiles with any of the given roles, or all when none are given.
	FindProfiles(ctx context.Context, roles ...models.Role) ([]models.Profile, error)
	// UpdateProfile runs the guard against the stored profile and applies the whole patch in
	// the same transaction.
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch, guard ProfileGuard) (*models.Profile, error)
}

// CredentialCollection stores logins of the built-in identity provider.
type CredentialCollection interface {
	InsertCredential(ctx context.Context, cred models.Credential) error
	FindCredentialByEmail(ctx context.Context, email string) (*models.Credential, error)
	FindCredentialByID(ctx context.Context, id string) (*models.Credential, error)
	DeleteCredential(ctx context.Context, id string) error
}

// Store bundles every collection of one backend.
type Store interface {
	AssetCollection
	SessionCollection
	PlanCollection
	ServiceLogCollection
	FuelCollection
	ProfileCollection
	CredentialCollection
	Close(ctx context.Context) error
}
