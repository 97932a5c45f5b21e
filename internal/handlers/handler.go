package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ukydev/fleet-usage/internal/admin"
	"github.com/ukydev/fleet-usage/internal/fuel"
	"github.com/ukydev/fleet-usage/internal/maintenance"
	"github.com/ukydev/fleet-usage/internal/models"
	"github.com/ukydev/fleet-usage/internal/usage"
)

// Services are the domain services behind the API.
type Services struct {
	Usage       *usage.Service
	Maintenance *maintenance.Service
	Fuel        *fuel.Service
	Admin       *admin.Gateway
}

// Handler serves the fleet API.
type Handler struct {
	Services
}

// NewHandler creates a Handler.
func NewHandler(s Services) *Handler {
	return &Handler{Services: s}
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ASSETS
// =============================================================================

// ListAssets returns every asset.
// GET /api/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Admin.ListAssets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetAsset returns one asset.
// GET /api/assets/{id}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.Admin.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// CreateAsset registers an asset.
// POST /api/assets
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in admin.AssetInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := h.Admin.CreateAsset(r.Context(), actor, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// UpdateAsset edits an asset's descriptive fields.
// PUT /api/assets/{id}
func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var patch models.AssetPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := h.Admin.UpdateAsset(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// LastUse returns the last departure time per asset.
// GET /api/assets/last-use
func (h *Handler) LastUse(w http.ResponseWriter, r *http.Request) {
	uses, err := h.Usage.LastUse(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uses)
}

// =============================================================================
// SESSIONS
// =============================================================================

// SessionResponse reports whether an asset is in use.
type SessionResponse struct {
	InUse   bool                   `json:"in_use"`
	Session *models.SessionSummary `json:"session,omitempty"`
}

// GetOpenSession returns the asset's open session, if any.
// GET /api/assets/{id}/session
func (h *Handler) GetOpenSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Usage.GetOpenSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{InUse: summary != nil, Session: summary})
}

// CurrentMeter returns the asset's last known meter value.
// GET /api/assets/{id}/meter
func (h *Handler) CurrentMeter(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "id")
	value, err := h.Usage.CurrentMeterValue(r.Context(), assetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "value": value})
}

// OpenSession records a departure.
// POST /api/assets/{id}/departure
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in usage.OpenInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.AssetID = chi.URLParam(r, "id")
	session, err := h.Usage.OpenSession(r.Context(), actor, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// CloseSession records a return.
// POST /api/assets/{id}/return
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in usage.CloseInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.AssetID = chi.URLParam(r, "id")
	session, err := h.Usage.CloseSession(r.Context(), actor, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// FleetStatus returns every asset with its free/in-use state.
// GET /api/fleet/status
func (h *Handler) FleetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Usage.FleetStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// GetPlan returns the asset's maintenance plan.
// GET /api/assets/{id}/plan
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Maintenance.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if plan == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no maintenance plan", Code: models.KindNotFound.String()})
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// UpsertPlan creates or replaces the asset's maintenance plan.
// PUT /api/assets/{id}/plan
func (h *Handler) UpsertPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in maintenance.PlanInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	plan, err := h.Maintenance.UpsertPlan(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// RecordService logs a service on the asset.
// POST /api/assets/{id}/services
func (h *Handler) RecordService(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in maintenance.ServiceInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.Maintenance.RecordService(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ListServices returns the asset's service history, most recent first.
// GET /api/assets/{id}/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Maintenance.ListServices(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// UpdateService edits a service log.
// PUT /api/services/{id}
func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var patch models.ServicePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.Maintenance.UpdateService(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DeleteService removes a service log.
// DELETE /api/services/{id}
func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := h.Maintenance.DeleteService(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MaintenanceStatus returns the due status of one asset.
// GET /api/assets/{id}/maintenance
func (h *Handler) MaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Maintenance.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// MaintenanceAlerts returns assets that are approaching or overdue, most urgent first.
// GET /api/maintenance/alerts
func (h *Handler) MaintenanceAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Maintenance.Alerts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// =============================================================================
// FUEL
// =============================================================================

// LogFuel appends a refuel event.
// POST /api/fuel
func (h *Handler) LogFuel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in fuel.LogInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	event, err := h.Fuel.LogFuelEvent(r.Context(), actor, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListFuel returns fuel events. Query: asset_id, operator_id, from, to (YYYY-MM-DD), limit.
// GET /api/fuel
func (h *Handler) ListFuel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	filter, err := parseFuelFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ledger, err := h.Fuel.ListEvents(r.Context(), actor, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// FuelTotals returns spend per operator for a month (YYYY-MM, default current month).
// GET /api/fuel/totals
func (h *Handler) FuelTotals(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	month := time.Now().UTC()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			writeError(w, r, models.NewValidationError("month", "must be YYYY-MM"))
			return
		}
		month = parsed
	}
	totals, err := h.Fuel.OperatorTotals(r.Context(), actor, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func parseFuelFilter(r *http.Request) (models.FuelFilter, error) {
	q := r.URL.Query()
	filter := models.FuelFilter{
		AssetID:    q.Get("asset_id"),
		OperatorID: q.Get("operator_id"),
	}
	invalid := map[string]string{}
	if raw := q.Get("from"); raw != "" {
		if from, err := time.Parse(time.DateOnly, raw); err == nil {
			filter.From = from
		} else {
			invalid["from"] = "must be YYYY-MM-DD"
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err := time.Parse(time.DateOnly, raw); err == nil {
			filter.To = to.AddDate(0, 0, 1) // inclusive day
		} else {
			invalid["to"] = "must be YYYY-MM-DD"
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			filter.Limit = limit
		} else {
			invalid["limit"] = "must be a positive integer"
		}
	}
	if len(invalid) > 0 {
		return filter, &models.ValidationError{Fields: invalid}
	}
	return filter, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Me returns the caller's profile.
// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	profile, err := h.Admin.Me(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ListAccounts returns the accounts the caller may manage.
// GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	profiles, err := h.Admin.ListAccounts(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// CreateAccount creates an account.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in admin.CreateAccountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.Admin.CreateAccount(r.Context(), actor, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// UpdateAccount patches an account's name and/or role.
// PUT /api/accounts/{id}
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var patch models.ProfilePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.Admin.UpdateAccount(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
