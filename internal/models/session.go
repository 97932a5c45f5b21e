package models

import "time"

// FuelLevel is the tank gauge reported when an asset departs.
type FuelLevel string

const (
	FuelEmpty        FuelLevel = "empty"
	FuelQuarter      FuelLevel = "quarter"
	FuelHalf         FuelLevel = "half"
	FuelThreeQuarter FuelLevel = "three-quarter"
	FuelFull         FuelLevel = "full"
)

// IsValid checks the fuel level is one of the gauge positions.
func (f FuelLevel) IsValid() bool {
	switch f {
	case FuelEmpty, FuelQuarter, FuelHalf, FuelThreeQuarter, FuelFull:
		return true
	default:
		return false
	}
}

// UsageSession represents one checkout-and-return cycle of an asset.
// The session is open while EndMeterValue is nil and immutable once it is set.
type UsageSession struct {
	ID               string     `bson:"_id" json:"id"`
	AssetID          string     `bson:"asset_id" json:"asset_id"`
	OperatorID       string     `bson:"operator_id" json:"operator_id"`
	OpenedAt         time.Time  `bson:"opened_at" json:"opened_at"`
	StartMeterValue  float64    `bson:"start_meter_value" json:"start_meter_value"`
	Destination      string     `bson:"destination,omitempty" json:"destination,omitempty"`
	FuelLevelAtStart FuelLevel  `bson:"fuel_level_at_start,omitempty" json:"fuel_level_at_start,omitempty"`
	EndMeterValue    *float64   `bson:"end_meter_value" json:"end_meter_value"`
	ClosedAt         *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	ClosedBy         string     `bson:"closed_by,omitempty" json:"closed_by,omitempty"`
}

// IsOpen reports whether the session has not been finalized.
func (s *UsageSession) IsOpen() bool {
	return s.EndMeterValue == nil
}

// Summary returns the fields a form needs to show an open session.
func (s *UsageSession) Summary() SessionSummary {
	return SessionSummary{
		SessionID:        s.ID,
		AssetID:          s.AssetID,
		OperatorID:       s.OperatorID,
		OpenedAt:         s.OpenedAt,
		StartMeterValue:  s.StartMeterValue,
		Destination:      s.Destination,
		FuelLevelAtStart: s.FuelLevelAtStart,
	}
}

// Distance is the meter delta of a finalized session, zero while open.
func (s *UsageSession) Distance() float64 {
	if s.EndMeterValue == nil {
		return 0
	}
	return *s.EndMeterValue - s.StartMeterValue
}

// SessionSummary describes an open session.
type SessionSummary struct {
	SessionID        string    `json:"session_id"`
	AssetID          string    `json:"asset_id"`
	OperatorID       string    `json:"operator_id"`
	OpenedAt         time.Time `json:"opened_at"`
	StartMeterValue  float64   `json:"start_meter_value"`
	Destination      string    `json:"destination,omitempty"`
	FuelLevelAtStart FuelLevel `json:"fuel_level_at_start,omitempty"`
}

// MeterHistory is the view of an asset's readings that the current meter value is
// derived from. It is never stored.
type MeterHistory struct {
	InitialReading *float64
	LastClosed     *UsageSession
	Open           *UsageSession
}

// AssetStatus is one row of the fleet status board.
type AssetStatus struct {
	Asset        Asset           `json:"asset"`
	InUse        bool            `json:"in_use"`
	Open         *SessionSummary `json:"open_session,omitempty"`
	OperatorName string          `json:"operator_name,omitempty"`
	CurrentValue float64         `json:"current_value"`
}

// LastUse records when an asset was last checked out.
type LastUse struct {
	AssetID  string    `bson:"_id" json:"asset_id"`
	OpenedAt time.Time `bson:"opened_at" json:"opened_at"`
}
