package models

import (
	"strings"
	"time"
)

// MeterKind fixes how an asset's meter is read. It cannot change after creation.
type MeterKind string

const (
	MeterDistance MeterKind = "distance" // odometer, km
	MeterDuration MeterKind = "duration" // hour-meter, hours
)

// IsValid checks the meter kind is one of the known kinds.
func (k MeterKind) IsValid() bool {
	return k == MeterDistance || k == MeterDuration
}

// Unit returns the display unit for readings of this kind.
func (k MeterKind) Unit() string {
	if k == MeterDuration {
		return "h"
	}
	return "km"
}

// Asset represents a tracked vehicle or machine.
type Asset struct {
	ID             string    `bson:"_id" json:"id"`
	Plate          string    `bson:"plate" json:"plate"`
	Name           string    `bson:"name" json:"name"`
	Category       string    `bson:"category" json:"category"` // "car", "truck", "machine", ...
	MeterKind      MeterKind `bson:"meter_kind" json:"meter_kind"`
	InitialReading *float64  `bson:"initial_reading,omitempty" json:"initial_reading,omitempty"`
	Year           int       `bson:"year,omitempty" json:"year,omitempty"`
	Color          string    `bson:"color,omitempty" json:"color,omitempty"`
	Notes          string    `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// AssetPatch edits descriptive fields of an asset. MeterKind is deliberately absent.
type AssetPatch struct {
	Plate    *string `json:"plate,omitempty"`
	Name     *string `json:"name,omitempty"`
	Category *string `json:"category,omitempty"`
	Year     *int    `json:"year,omitempty"`
	Color    *string `json:"color,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// Apply copies the set fields of the patch onto the asset.
func (p AssetPatch) Apply(a *Asset) {
	if p.Plate != nil {
		a.Plate = NormalizePlate(*p.Plate)
	}
	if p.Name != nil {
		a.Name = strings.TrimSpace(*p.Name)
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Year != nil {
		a.Year = *p.Year
	}
	if p.Color != nil {
		a.Color = strings.TrimSpace(*p.Color)
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
}

// NormalizePlate trims and upper-cases a plate/tag.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}
