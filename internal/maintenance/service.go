// Package maintenance tracks service intervals and derives due status on read.
package maintenance

import (
	"context"
	"fmt"
	"strings"
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
	db.PlanCollection
	db.ServiceLogCollection
}

// Service manages plans and service logs.
type Service struct {
	store  Store
	events events.Publisher
	now    func() time.Time
	log    log.FieldLogger
}

// NewService creates a maintenance service. A nil publisher disables events.
func NewService(store Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:  store,
		events: publisher,
		now:    time.Now,
		log:    log.WithField("component", "maintenance"),
	}
}

// PlanInput sets the service interval of an asset.
type PlanInput struct {
	IntervalValue float64 `json:"interval_value" validate:"gt=0"`
	RemindBefore  float64 `json:"remind_before" validate:"gte=0"`
	Active        bool    `json:"active"`
	Notes         string  `json:"notes"`
}

// ServiceInput records a performed service.
type ServiceInput struct {
	ValueAtService float64   `json:"value_at_service" validate:"gte=0"`
	PerformedAt    time.Time `json:"performed_at"`
	Notes          string    `json:"notes"`
}

func requireFleetManager(actor models.Identity) error {
	if !policy.CanManageFleet(actor.Role) {
		return models.ErrPermissionDenied
	}
	return nil
}

// UpsertPlan creates or replaces the plan of an asset. Manager tier or above.
func (s *Service) UpsertPlan(ctx context.Context, actor models.Identity, assetID string, in PlanInput) (*models.MaintenancePlan, error) {
	if err := requireFleetManager(actor); err != nil {
		return nil, err
	}
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	if _, err := s.store.FindAssetByID(ctx, assetID); err != nil {
		return nil, err
	}

	plan := models.MaintenancePlan{
		AssetID:       assetID,
		IntervalValue: in.IntervalValue,
		RemindBefore:  in.RemindBefore,
		Active:        in.Active,
		Notes:         strings.TrimSpace(in.Notes),
		UpdatedAt:     s.now().UTC(),
	}
	if err := s.store.UpsertPlan(ctx, plan); err != nil {
		return nil, err
	}
	s.log.WithFields(log.Fields{
		"asset_id": assetID,
		"interval": plan.IntervalValue,
		"active":   plan.Active,
	}).Info("Maintenance plan saved")
	return &plan, nil
}

// GetPlan returns the plan of an asset, or nil.
func (s *Service) GetPlan(ctx context.Context, assetID string) (*models.MaintenancePlan, error) {
	return s.store.FindPlan(ctx, assetID)
}

// RecordService logs a service. The performed date defaults to today. Manager tier or above.
func (s *Service) RecordService(ctx context.Context, actor models.Identity, assetID string, in ServiceInput) (*models.ServiceLog, error) {
	if err := requireFleetManager(actor); err != nil {
		return nil, err
	}
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	if _, err := s.store.FindAssetByID(ctx, assetID); err != nil {
		return nil, err
	}
	performedAt := in.PerformedAt
	if performedAt.IsZero() {
		performedAt = s.now()
	}

	entry, err := s.store.InsertServiceLog(ctx, models.ServiceLog{
		AssetID:        assetID,
		PerformedAt:    performedAt.UTC(),
		ValueAtService: in.ValueAtService,
		Notes:          strings.TrimSpace(in.Notes),
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(log.Fields{
		"asset_id":   assetID,
		"service_id": entry.ID,
		"value":      entry.ValueAtService,
	}).Info("Service recorded")
	events.Emit(ctx, s.events, events.Event{
		Type:    events.ServiceRecorded,
		AssetID: assetID,
		ActorID: actor.ActorID,
		Data:    entry,
	})
	return entry, nil
}

// UpdateService edits a service log. Manager tier or above.
func (s *Service) UpdateService(ctx context.Context, actor models.Identity, id string, patch models.ServicePatch) (*models.ServiceLog, error) {
	if err := requireFleetManager(actor); err != nil {
		return nil, err
	}
	if patch.ValueAtService != nil && *patch.ValueAtService < 0 {
		return nil, models.NewValidationError("value_at_service", "must be greater than or equal to 0")
	}
	return s.store.UpdateServiceLog(ctx, id, patch)
}

// DeleteService removes a service log. The asset's baseline falls back to the previous
// log on the next read. Manager tier or above.
func (s *Service) DeleteService(ctx context.Context, actor models.Identity, id string) error {
	if err := requireFleetManager(actor); err != nil {
		return err
	}
	if err := s.store.DeleteServiceLog(ctx, id); err != nil {
		return err
	}
	s.log.WithField("service_id", id).Info("Service log deleted")
	return nil
}

// ListServices returns the service logs of an asset, most recent first.
func (s *Service) ListServices(ctx context.Context, assetID string) ([]models.ServiceLog, error) {
	if _, err := s.store.FindAssetByID(ctx, assetID); err != nil {
		return nil, err
	}
	return s.store.FindServiceLogs(ctx, assetID)
}

// GetStatus computes the maintenance status of one asset from current data.
func (s *Service) GetStatus(ctx context.Context, assetID string) (models.MaintenanceStatus, error) {
	plan, err := s.store.FindPlan(ctx, assetID)
	if err != nil {
		return models.MaintenanceStatus{}, err
	}
	return s.status(ctx, assetID, plan)
}

func (s *Service) status(ctx context.Context, assetID string, plan *models.MaintenancePlan) (models.MaintenanceStatus, error) {
	history, err := s.store.MeterHistory(ctx, assetID)
	if err != nil {
		return models.MaintenanceStatus{}, err
	}
	last, err := s.store.LatestServiceLog(ctx, assetID)
	if err != nil {
		return models.MaintenanceStatus{}, fmt.Errorf("latest service: %w", err)
	}
	return Compute(Input{
		AssetID:        assetID,
		Plan:           plan,
		LastService:    last,
		InitialReading: history.InitialReading,
		CurrentValue:   meter.CurrentValue(history),
	}), nil
}

// Alerts computes every planned asset and returns the overdue and approaching ones,
// overdue first.
func (s *Service) Alerts(ctx context.Context) ([]models.MaintenanceStatus, error) {
	plans, err := s.store.FindPlans(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]models.MaintenanceStatus, 0, len(plans))
	for i := range plans {
		if !plans[i].Active {
			continue
		}
		st, err := s.status(ctx, plans[i].AssetID, &plans[i])
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return SortAlerts(statuses), nil
}
