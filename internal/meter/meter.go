// Package meter derives an asset's current reading from its history and checks that new
// readings move forward.
package meter

import (
	"context"

	"github.com/ukydev/fleet-usage/internal/models"
)

// LastKnownValue returns the latest reading implied by the history: the end of the most
// recently closed session, else the start of the open session, else the initial reading.
// ok is false when the asset has no reading at all.
func LastKnownValue(h models.MeterHistory) (value float64, ok bool) {
	switch {
	case h.LastClosed != nil && h.LastClosed.EndMeterValue != nil:
		return *h.LastClosed.EndMeterValue, true
	case h.Open != nil:
		return h.Open.StartMeterValue, true
	case h.InitialReading != nil:
		return *h.InitialReading, true
	default:
		return 0, false
	}
}

// CurrentValue is LastKnownValue with 0 for assets without readings.
func CurrentValue(h models.MeterHistory) float64 {
	v, _ := LastKnownValue(h)
	return v
}

// Validate rejects a submitted reading that does not exceed the last known value.
// With no history every non-negative reading is accepted, 0 included.
func Validate(h models.MeterHistory, submitted float64) error {
	if submitted < 0 {
		return models.NewValidationError("meter_value", "must be greater than or equal to 0")
	}
	last, ok := LastKnownValue(h)
	if ok && submitted <= last {
		return &models.NotMonotonicError{Submitted: submitted, LastKnown: last}
	}
	return nil
}

// HistoryReader loads the meter history of an asset.
type HistoryReader interface {
	MeterHistory(ctx context.Context, assetID string) (models.MeterHistory, error)
}

// Validator checks readings against stored history.
type Validator struct {
	History HistoryReader
}

// NewValidator creates a Validator reading from h.
func NewValidator(h HistoryReader) *Validator {
	return &Validator{History: h}
}

// Validate loads the asset's history and checks submitted against it. Callers that need
// the check to hold at write time must repeat it inside the write transaction.
func (v *Validator) Validate(ctx context.Context, assetID string, submitted float64) error {
	h, err := v.History.MeterHistory(ctx, assetID)
	if err != nil {
		return err
	}
	return Validate(h, submitted)
}

// Current returns the derived current reading of an asset.
func (v *Validator) Current(ctx context.Context, assetID string) (float64, error) {
	h, err := v.History.MeterHistory(ctx, assetID)
	if err != nil {
		return 0, err
	}
	return CurrentValue(h), nil
}
