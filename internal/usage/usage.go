// Package usage runs the checkout/return cycle of assets.
//
// Per asset the cycle alternates between "no open session" and "one open session".
// Both transitions run their preconditions inside the store transaction, and the store
// enforces the single open session at commit time, so concurrent departures for the same
// asset produce exactly one winner.
package usage

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/db"
	"github.com/ukydev/fleet-usage/internal/events"
	"github.com/ukydev/fleet-usage/internal/meter"
	"github.com/ukydev/fleet-usage/internal/models"
	"github.com/ukydev/fleet-usage/internal/policy"
)

// Store is the persistence the service needs.
type Store interface {
	db.AssetCollection
	db.SessionCollection
	db.ProfileCollection
}

// Service implements session transitions and the fleet status board.
type Service struct {
	store  Store
	events events.Publisher
	now    func() time.Time
	log    log.FieldLogger
}

// NewService creates a usage service. A nil publisher disables events.
func NewService(store Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:  store,
		events: publisher,
		now:    time.Now,
		log:    log.WithField("component", "usage"),
	}
}

// OpenInput is a departure.
type OpenInput struct {
	AssetID     string           `json:"asset_id" validate:"required"`
	OperatorID  string           `json:"operator_id"`
	StartValue  float64          `json:"start_value" validate:"gte=0"`
	Destination string           `json:"destination"`
	FuelLevel   models.FuelLevel `json:"fuel_level" validate:"fuellevel"`
}

// CloseInput is a return.
type CloseInput struct {
	AssetID  string  `json:"asset_id" validate:"required"`
	EndValue float64 `json:"end_value" validate:"gte=0"`
}

// OpenSession checks the asset out. Operators always check out for themselves; manager
// tier and above may name another operator. The operator's profile must exist when the
// session is written.
func (s *Service) OpenSession(ctx context.Context, actor models.Identity, in OpenInput) (*models.UsageSession, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	operatorID := in.OperatorID
	if operatorID == "" {
		operatorID = actor.ActorID
	}
	if operatorID != actor.ActorID && !policy.CanManageFleet(actor.Role) {
		return nil, models.ErrPermissionDenied
	}

	session := models.UsageSession{
		AssetID:          in.AssetID,
		OperatorID:       operatorID,
		OpenedAt:         s.now().UTC(),
		StartMeterValue:  in.StartValue,
		Destination:      in.Destination,
		FuelLevelAtStart: in.FuelLevel,
	}
	opened, err := s.store.OpenSession(ctx, session, func(h models.MeterHistory, operator *models.Profile) error {
		if operator == nil {
			return models.ErrAccountNotFound
		}
		if operatorID != actor.ActorID && operator.Role != models.RoleOperator {
			return models.NewValidationError("operator_id", "must reference an operator account")
		}
		if h.Open != nil {
			return &models.SessionAlreadyOpenError{Existing: h.Open.Summary()}
		}
		return meter.Validate(h, in.StartValue)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(log.Fields{
		"asset_id":    opened.AssetID,
		"session_id":  opened.ID,
		"operator_id": opened.OperatorID,
		"start":       opened.StartMeterValue,
	}).Info("Usage session opened")
	events.Emit(ctx, s.events, events.Event{
		Type:    events.SessionOpened,
		AssetID: opened.AssetID,
		ActorID: actor.ActorID,
		Data:    opened.Summary(),
	})
	return opened, nil
}

// CloseSession returns the asset. Any authenticated account may close an open session;
// the closer is recorded on the session.
func (s *Service) CloseSession(ctx context.Context, actor models.Identity, in CloseInput) (*models.UsageSession, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	closed, err := s.store.CloseSession(ctx, db.CloseRequest{
		AssetID:       in.AssetID,
		ClosedBy:      actor.ActorID,
		EndMeterValue: in.EndValue,
		ClosedAt:      s.now().UTC(),
	}, func(open models.UsageSession) error {
		if in.EndValue < open.StartMeterValue {
			return &models.BelowStartError{Submitted: in.EndValue, Start: open.StartMeterValue}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(log.Fields{
		"asset_id":   closed.AssetID,
		"session_id": closed.ID,
		"closed_by":  closed.ClosedBy,
		"distance":   closed.Distance(),
	}).Info("Usage session closed")
	events.Emit(ctx, s.events, events.Event{
		Type:    events.SessionClosed,
		AssetID: closed.AssetID,
		ActorID: actor.ActorID,
		Data: map[string]any{
			"session_id": closed.ID,
			"start":      closed.StartMeterValue,
			"end":        *closed.EndMeterValue,
			"distance":   closed.Distance(),
		},
	})
	return closed, nil
}

// GetOpenSession returns the open session of an asset, or nil when it is free.
func (s *Service) GetOpenSession(ctx context.Context, assetID string) (*models.SessionSummary, error) {
	if _, err := s.store.FindAssetByID(ctx, assetID); err != nil {
		return nil, err
	}
	open, err := s.store.FindOpenSession(ctx, assetID)
	if err != nil || open == nil {
		return nil, err
	}
	summary := open.Summary()
	return &summary, nil
}

// CurrentMeterValue derives the current reading of an asset from its history.
func (s *Service) CurrentMeterValue(ctx context.Context, assetID string) (float64, error) {
	h, err := s.store.MeterHistory(ctx, assetID)
	if err != nil {
		return 0, err
	}
	return meter.CurrentValue(h), nil
}

// FleetStatus lists every asset as free or in use, with the operator of the open session.
func (s *Service) FleetStatus(ctx context.Context) ([]models.AssetStatus, error) {
	assets, err := s.store.FindAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	open, err := s.store.FindOpenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	profiles, err := s.store.FindProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	openByAsset := make(map[string]models.UsageSession, len(open))
	for _, session := range open {
		openByAsset[session.AssetID] = session
	}
	names := make(map[string]string, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.Name
	}

	board := make([]models.AssetStatus, 0, len(assets))
	for _, asset := range assets {
		current, err := s.CurrentMeterValue(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		status := models.AssetStatus{Asset: asset, CurrentValue: current}
		if session, ok := openByAsset[asset.ID]; ok {
			summary := session.Summary()
			status.InUse = true
			status.Open = &summary
			status.OperatorName = names[session.OperatorID]
		}
		board = append(board, status)
	}
	return board, nil
}

// LastUse returns when each asset was last checked out.
func (s *Service) LastUse(ctx context.Context) ([]models.LastUse, error) {
	return s.store.LastUsePerAsset(ctx)
}
