package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TankFill tells whether a refuel filled the tank.
type TankFill string

const (
	TankPartial TankFill = "partial"
	TankFull    TankFill = "full"
)

// IsValid checks the tank fill is known.
func (t TankFill) IsValid() bool {
	return t == TankPartial || t == TankFull
}

// FuelEvent represents one refuel of an asset. Fuel events are append-only.
type FuelEvent struct {
	ID         string          `json:"id"`
	AssetID    string          `json:"asset_id"`
	OperatorID string          `json:"operator_id"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"` // money spent
	TankFill   TankFill        `json:"tank_fill"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FuelFilter narrows a fuel event query. Zero values match everything.
type FuelFilter struct {
	AssetID    string
	OperatorID string
	From       time.Time
	To         time.Time // exclusive
	Limit      int
}

// OperatorFuelTotal aggregates fuel spend of one operator over a period.
type OperatorFuelTotal struct {
	OperatorID string          `json:"operator_id"`
	Name       string          `json:"name,omitempty"`
	Total      decimal.Decimal `json:"total_fuel_spend"`
	Events     int             `json:"fuel_events"`
}
