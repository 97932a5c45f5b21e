package models

import (
	"time"
)

// MaintenancePlan is the service interval of an asset. There is at most one per asset.
type MaintenancePlan struct {
	AssetID       string    `json:"asset_id" bson:"_id"`
	IntervalValue float64   `json:"interval_value" bson:"interval_value"` // meter units between services
	RemindBefore  float64   `json:"remind_before" bson:"remind_before"`   // lead time for the approaching warning
	Active        bool      `json:"active" bson:"active"`
	Notes         string    `json:"notes,omitempty" bson:"notes,omitempty"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// ServiceLog records a maintenance service performed on an asset.
type ServiceLog struct {
	ID             string    `json:"id" bson:"_id"`
	AssetID        string    `json:"asset_id" bson:"asset_id"`
	PerformedAt    time.Time `json:"performed_at" bson:"performed_at"`
	ValueAtService float64   `json:"value_at_service" bson:"value_at_service"`
	Notes          string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
	// Seq breaks ties between logs performed on the same date, in insertion order.
	Seq int64 `json:"-" bson:"seq"`
}

// ServicePatch edits a service log.
type ServicePatch struct {
	PerformedAt    *time.Time `json:"performed_at,omitempty"`
	ValueAtService *float64   `json:"value_at_service,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

// DueStatus is the derived maintenance status of an asset.
type DueStatus string

const (
	DueInactive    DueStatus = "inactive"
	DueOverdue     DueStatus = "overdue"
	DueApproaching DueStatus = "approaching"
	DueOK          DueStatus = "ok"
)

// MaintenanceStatus is the result of a due calculation.
type MaintenanceStatus struct {
	AssetID      string    `json:"asset_id"`
	Status       DueStatus `json:"status"`
	Remaining    float64   `json:"remaining"`
	NextDue      float64   `json:"next_due"`
	Baseline     float64   `json:"baseline"`
	CurrentValue float64   `json:"current_value"`
}
