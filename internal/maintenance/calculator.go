package maintenance

import (
	"sort"

	"github.com/ukydev/fleet-usage/internal/models"
)

// Input is everything the due calculation depends on.
type Input struct {
	AssetID        string
	Plan           *models.MaintenancePlan
	LastService    *models.ServiceLog
	InitialReading *float64
	CurrentValue   float64
}

// Baseline is the reading at the latest service, else the initial reading, else 0.
func Baseline(lastService *models.ServiceLog, initialReading *float64) float64 {
	switch {
	case lastService != nil:
		return lastService.ValueAtService
	case initialReading != nil:
		return *initialReading
	default:
		return 0
	}
}

// Compute derives the maintenance status. It is pure: identical inputs always give
// identical output, and nothing is cached between calls.
//
//	next_due  = baseline + interval
//	remaining = next_due - current
//	INACTIVE when the plan is missing or inactive, OVERDUE when remaining <= 0,
//	APPROACHING when 0 < remaining <= remind_before, OK otherwise.
func Compute(in Input) models.MaintenanceStatus {
	status := models.MaintenanceStatus{
		AssetID:      in.AssetID,
		Baseline:     Baseline(in.LastService, in.InitialReading),
		CurrentValue: in.CurrentValue,
	}
	if in.Plan == nil || !in.Plan.Active {
		status.Status = models.DueInactive
		return status
	}

	status.NextDue = status.Baseline + in.Plan.IntervalValue
	status.Remaining = status.NextDue - in.CurrentValue
	switch {
	case status.Remaining <= 0:
		status.Status = models.DueOverdue
	case status.Remaining <= in.Plan.RemindBefore:
		status.Status = models.DueApproaching
	default:
		status.Status = models.DueOK
	}
	return status
}

// SortAlerts keeps overdue and approaching statuses, overdue first, each group by
// ascending remaining.
func SortAlerts(statuses []models.MaintenanceStatus) []models.MaintenanceStatus {
	alerts := make([]models.MaintenanceStatus, 0, len(statuses))
	for _, s := range statuses {
		if s.Status == models.DueOverdue || s.Status == models.DueApproaching {
			alerts = append(alerts, s)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Status != b.Status {
			return a.Status == models.DueOverdue
		}
		if a.Remaining != b.Remaining {
			return a.Remaining < b.Remaining
		}
		return a.AssetID < b.AssetID
	})
	return alerts
}
