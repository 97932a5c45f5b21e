// Package fuel records refuels and aggregates spend per operator.
//
// The ledger is append-only: there is no update or delete operation.
package fuel

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/db"
	"github.com/ukydev/fleet-usage/internal/events"
	"github.com/ukydev/fleet-usage/internal/models"
	"github.com/ukydev/fleet-usage/internal/policy"
)

// Store is the persistence the service needs.
type Store interface {
	db.AssetCollection
	db.FuelCollection
	db.ProfileCollection
}

// Service records and queries fuel events.
type Service struct {
	store  Store
	events events.Publisher
	now    func() time.Time
	log    log.FieldLogger
}

// NewService creates a fuel service. A nil publisher disables events.
func NewService(store Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:  store,
		events: publisher,
		now:    time.Now,
		log:    log.WithField("component", "fuel"),
	}
}

// LogInput is one refuel.
type LogInput struct {
	AssetID    string          `json:"asset_id" validate:"required"`
	OperatorID string          `json:"operator_id"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	TankFill   models.TankFill `json:"tank_fill" validate:"tankfill"`
	Notes      string          `json:"notes"`
}

// LogFuelEvent appends a refuel. Operators log for themselves; manager tier and above may
// name another operator, whose profile must exist. The date defaults to now.
func (s *Service) LogFuelEvent(ctx context.Context, actor models.Identity, in LogInput) (*models.FuelEvent, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be greater than 0")
	}
	operatorID := in.OperatorID
	if operatorID == "" {
		operatorID = actor.ActorID
	}
	if operatorID != actor.ActorID && !policy.CanManageFleet(actor.Role) {
		return nil, models.ErrPermissionDenied
	}
	// Profiles are never deleted, so a reference checked here stays valid.
	operator, err := s.store.FindProfileByID(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	if operatorID != actor.ActorID && operator.Role != models.RoleOperator {
		return nil, models.NewValidationError("operator_id", "must reference an operator account")
	}
	if _, err := s.store.FindAssetByID(ctx, in.AssetID); err != nil {
		return nil, err
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}

	event, err := s.store.InsertFuelEvent(ctx, models.FuelEvent{
		AssetID:    in.AssetID,
		OperatorID: operatorID,
		Date:       date.UTC(),
		Amount:     in.Amount.Round(2),
		TankFill:   in.TankFill,
		Notes:      strings.TrimSpace(in.Notes),
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(log.Fields{
		"asset_id":    event.AssetID,
		"operator_id": event.OperatorID,
		"amount":      event.Amount.StringFixed(2),
	}).Info("Fuel event logged")
	events.Emit(ctx, s.events, events.Event{
		Type:    events.FuelLogged,
		AssetID: event.AssetID,
		ActorID: actor.ActorID,
		Data:    event,
	})
	return event, nil
}

// ListEvents returns fuel events, most recent first. Operators only ever see their own.
func (s *Service) ListEvents(ctx context.Context, actor models.Identity, filter models.FuelFilter) ([]models.FuelEvent, error) {
	if !policy.CanManageFleet(actor.Role) {
		filter.OperatorID = actor.ActorID
	}
	return s.store.FindFuelEvents(ctx, filter)
}

// MonthRange returns the half-open interval [first day of month, first day of next month).
func MonthRange(month time.Time) (time.Time, time.Time) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// OperatorTotals sums fuel spend and counts events per operator for the month containing
// month. Operators only get their own row. Rows are ordered by descending total.
func (s *Service) OperatorTotals(ctx context.Context, actor models.Identity, month time.Time) ([]models.OperatorFuelTotal, error) {
	from, to := MonthRange(month)
	ledger, err := s.ListEvents(ctx, actor, models.FuelFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	byOperator := map[string]*models.OperatorFuelTotal{}
	for _, e := range ledger {
		total, ok := byOperator[e.OperatorID]
		if !ok {
			total = &models.OperatorFuelTotal{OperatorID: e.OperatorID, Total: decimal.Zero}
			byOperator[e.OperatorID] = total
		}
		total.Total = total.Total.Add(e.Amount)
		total.Events++
	}

	profiles, err := s.store.FindProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if total, ok := byOperator[p.ID]; ok {
			total.Name = p.Name
		}
	}

	totals := make([]models.OperatorFuelTotal, 0, len(byOperator))
	for _, t := range byOperator {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool {
		if c := totals[i].Total.Cmp(totals[j].Total); c != 0 {
			return c > 0
		}
		return totals[i].OperatorID < totals[j].OperatorID
	})
	return totals, nil
}
