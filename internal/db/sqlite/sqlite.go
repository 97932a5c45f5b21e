/*
Package sqlite provides a SQLite-backed implementation of db.Store.

KEY TABLES:

	assets:            Tracked vehicles and machines
	usage_sessions:    Checkout/return cycles; end_meter_value IS NULL while open
	maintenance_plans: One row per asset (primary key = asset_id)
	service_logs:      Services performed; seq is the insertion order tie-break
	fuel_events:       Append-only refuel ledger; amounts kept as decimal text
	profiles:          Accounts and roles
	credentials:       Logins of the built-in identity provider

INVARIANTS ENFORCED BY THE SCHEMA:
  - uniq_open_session_per_asset: partial unique index, at most one row per asset with
    end_meter_value IS NULL. This holds even if two writers pass their guards.
  - end_meter_value >= start_meter_value (CHECK).

TRANSACTIONS:
  The DSN sets _txlock=immediate, so every transaction starts with BEGIN IMMEDIATE and
  takes the write lock up front. Guards passed to OpenSession/CloseSession run after the
  lock is held and therefore see the latest committed history.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/ukydev/fleet-usage/internal/db"
	"github.com/ukydev/fleet-usage/internal/models"
)

// timeLayout sorts lexically in chronological order; all times are stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements db.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ db.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and migrates the schema.
// Use ":memory:" for a private in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a different database.
		sqlDB.SetMaxOpenConns(1)
	}

	store := &Store{db: sqlDB}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		plate TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		meter_kind TEXT NOT NULL CHECK (meter_kind IN ('distance', 'duration')),
		initial_reading REAL,
		year INTEGER NOT NULL DEFAULT 0,
		color TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_sessions (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		operator_id TEXT NOT NULL,
		opened_at TEXT NOT NULL,
		start_meter_value REAL NOT NULL,
		destination TEXT,
		fuel_level_at_start TEXT,
		end_meter_value REAL,
		closed_at TEXT,
		closed_by TEXT,
		CHECK (end_meter_value IS NULL OR end_meter_value >= start_meter_value)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uniq_open_session_per_asset
		ON usage_sessions(asset_id) WHERE end_meter_value IS NULL;

	CREATE INDEX IF NOT EXISTS idx_sessions_asset_closed
		ON usage_sessions(asset_id, closed_at DESC);

	CREATE TABLE IF NOT EXISTS maintenance_plans (
		asset_id TEXT PRIMARY KEY REFERENCES assets(id),
		interval_value REAL NOT NULL,
		remind_before REAL NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS service_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		performed_at TEXT NOT NULL,
		value_at_service REAL NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_service_logs_asset_latest
		ON service_logs(asset_id, performed_at DESC, seq DESC);

	CREATE TABLE IF NOT EXISTS fuel_events (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		operator_id TEXT NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		tank_fill TEXT NOT NULL CHECK (tank_fill IN ('partial', 'full')),
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fuel_events_operator_date
		ON fuel_events(operator_id, date DESC);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL CHECK (role IN ('fleet-admin', 'director', 'manager', 'operator')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a BEGIN IMMEDIATE transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func newID() string {
	return uuid.NewString()
}

// =============================================================================
// ASSETS
// =============================================================================

const assetColumns = `id, plate, name, category, meter_kind, initial_reading, year, color, notes, created_at, updated_at`

// InsertAsset inserts an asset, assigning an ID when it has none.
func (s *Store) InsertAsset(ctx context.Context, asset models.Asset) (*models.Asset, error) {
	if asset.ID == "" {
		asset.ID = newID()
	}
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	var initial sql.NullFloat64
	if asset.InitialReading != nil {
		initial = sql.NullFloat64{Float64: *asset.InitialReading, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.Plate, asset.Name, asset.Category, string(asset.MeterKind), initial,
		asset.Year, asset.Color, asset.Notes, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	return &asset, nil
}

// FindAssetByID finds an asset by its ID.
func (s *Store) FindAssetByID(ctx context.Context, id string) (*models.Asset, error) {
	return findAsset(ctx, s.db, id)
}

func findAsset(ctx context.Context, q querier, id string) (*models.Asset, error) {
	row := q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find asset: %w", err)
	}
	return asset, nil
}

// FindAssets lists every asset ordered by plate.
func (s *Store) FindAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY plate`)
	if err != nil {
		return nil, fmt.Errorf("find assets: %w", err)
	}
	defer rows.Close()

	assets := []models.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// UpdateAsset writes the descriptive fields of an asset.
func (s *Store) UpdateAsset(ctx context.Context, asset models.Asset) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET plate = ?, name = ?, category = ?, year = ?, color = ?, notes = ?, updated_at = ? WHERE id = ?`,
		asset.Plate, asset.Name, asset.Category, asset.Year, asset.Color, asset.Notes, formatTime(time.Now()), asset.ID)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrAssetNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*models.Asset, error) {
	var (
		a                    models.Asset
		kind                 string
		initial              sql.NullFloat64
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.Plate, &a.Name, &a.Category, &kind, &initial, &a.Year, &a.Color, &a.Notes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.MeterKind = models.MeterKind(kind)
	if initial.Valid {
		v := initial.Float64
		a.InitialReading = &v
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// USAGE SESSIONS
// =============================================================================

const sessionColumns = `id, asset_id, operator_id, opened_at, start_meter_value, destination, fuel_level_at_start, end_meter_value, closed_at, closed_by`

// OpenSession checks the guard against the asset's history and inserts the session in
// one immediate transaction.
func (s *Store) OpenSession(ctx context.Context, session models.UsageSession, guard db.OpenGuard) (*models.UsageSession, error) {
	if session.ID == "" {
		session.ID = newID()
	}
	session.EndMeterValue = nil
	session.ClosedAt = nil
	session.ClosedBy = ""

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		history, err := meterHistory(ctx, tx, session.AssetID)
		if err != nil {
			return err
		}
		operator, err := findProfile(ctx, tx, session.OperatorID)
		if errors.Is(err, models.ErrAccountNotFound) {
			operator, err = nil, nil
		}
		if err != nil {
			return err
		}
		if err := guard(history, operator); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO usage_sessions (id, asset_id, operator_id, opened_at, start_meter_value, destination, fuel_level_at_start)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.AssetID, session.OperatorID, formatTime(session.OpenedAt), session.StartMeterValue,
			nullString(session.Destination), nullString(string(session.FuelLevelAtStart)))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, s.alreadyOpen(ctx, session.AssetID)
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) alreadyOpen(ctx context.Context, assetID string) error {
	existing, err := findOpenSession(ctx, s.db, assetID)
	if err != nil || existing == nil {
		return &models.SessionAlreadyOpenError{Existing: models.SessionSummary{AssetID: assetID}}
	}
	return &models.SessionAlreadyOpenError{Existing: existing.Summary()}
}

// CloseSession finalizes the open session of an asset.
func (s *Store) CloseSession(ctx context.Context, req db.CloseRequest, guard db.CloseGuard) (*models.UsageSession, error) {
	var closed *models.UsageSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		open, err := findOpenSession(ctx, tx, req.AssetID)
		if err != nil {
			return err
		}
		if open == nil {
			return models.ErrNoOpenSession
		}
		if err := guard(*open); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE usage_sessions SET end_meter_value = ?, closed_at = ?, closed_by = ?
			 WHERE id = ? AND end_meter_value IS NULL`,
			req.EndMeterValue, formatTime(req.ClosedAt), req.ClosedBy, open.ID)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNoOpenSession
		}
		end := req.EndMeterValue
		closedAt := req.ClosedAt.UTC()
		open.EndMeterValue = &end
		open.ClosedAt = &closedAt
		open.ClosedBy = req.ClosedBy
		closed = open
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// FindOpenSession returns the open session of an asset, or nil.
func (s *Store) FindOpenSession(ctx context.Context, assetID string) (*models.UsageSession, error) {
	return findOpenSession(ctx, s.db, assetID)
}

func findOpenSession(ctx context.Context, q querier, assetID string) (*models.UsageSession, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM usage_sessions WHERE asset_id = ? AND end_meter_value IS NULL`, assetID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	return session, nil
}

// FindOpenSessions lists every open session.
func (s *Store) FindOpenSessions(ctx context.Context) ([]models.UsageSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM usage_sessions WHERE end_meter_value IS NULL ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("find open sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.UsageSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// MeterHistory loads the initial reading, the last closed and the open session of an asset.
func (s *Store) MeterHistory(ctx context.Context, assetID string) (models.MeterHistory, error) {
	return meterHistory(ctx, s.db, assetID)
}

func meterHistory(ctx context.Context, q querier, assetID string) (models.MeterHistory, error) {
	var history models.MeterHistory

	asset, err := findAsset(ctx, q, assetID)
	if err != nil {
		return history, err
	}
	history.InitialReading = asset.InitialReading

	row := q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM usage_sessions
		 WHERE asset_id = ? AND end_meter_value IS NOT NULL
		 ORDER BY closed_at DESC LIMIT 1`, assetID)
	last, err := scanSession(row)
	switch {
	case err == nil:
		history.LastClosed = last
	case !errors.Is(err, sql.ErrNoRows):
		return history, fmt.Errorf("find last closed session: %w", err)
	}

	history.Open, err = findOpenSession(ctx, q, assetID)
	return history, err
}

// LastUsePerAsset returns the latest departure time of each asset.
func (s *Store) LastUsePerAsset(ctx context.Context) ([]models.LastUse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, MAX(opened_at) FROM usage_sessions GROUP BY asset_id ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("last use per asset: %w", err)
	}
	defer rows.Close()

	uses := []models.LastUse{}
	for rows.Next() {
		var (
			use      models.LastUse
			openedAt string
		)
		if err := rows.Scan(&use.AssetID, &openedAt); err != nil {
			return nil, err
		}
		if use.OpenedAt, err = parseTime(openedAt); err != nil {
			return nil, err
		}
		uses = append(uses, use)
	}
	return uses, rows.Err()
}

func scanSession(row scanner) (*models.UsageSession, error) {
	var (
		session                models.UsageSession
		openedAt               string
		destination, fuelLevel sql.NullString
		end                    sql.NullFloat64
		closedAt, closedBy     sql.NullString
	)
	if err := row.Scan(&session.ID, &session.AssetID, &session.OperatorID, &openedAt, &session.StartMeterValue,
		&destination, &fuelLevel, &end, &closedAt, &closedBy); err != nil {
		return nil, err
	}
	var err error
	if session.OpenedAt, err = parseTime(openedAt); err != nil {
		return nil, err
	}
	session.Destination = destination.String
	session.FuelLevelAtStart = models.FuelLevel(fuelLevel.String)
	if end.Valid {
		v := end.Float64
		session.EndMeterValue = &v
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return nil, err
		}
		session.ClosedAt = &t
	}
	session.ClosedBy = closedBy.String
	return &session, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// =============================================================================
// MAINTENANCE PLANS
// =============================================================================

// UpsertPlan creates or replaces the plan of an asset.
func (s *Store) UpsertPlan(ctx context.Context, plan models.MaintenancePlan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO maintenance_plans (asset_id, interval_value, remind_before, active, notes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(asset_id) DO UPDATE SET
			interval_value = excluded.interval_value,
			remind_before = excluded.remind_before,
			active = excluded.active,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		plan.AssetID, plan.IntervalValue, plan.RemindBefore, plan.Active, plan.Notes, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

const planColumns = `asset_id, interval_value, remind_before, active, notes, updated_at`

// FindPlan returns the plan of an asset, or nil.
func (s *Store) FindPlan(ctx context.Context, assetID string) (*models.MaintenancePlan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM maintenance_plans WHERE asset_id = ?`, assetID)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find plan: %w", err)
	}
	return plan, nil
}

// FindPlans lists every plan.
func (s *Store) FindPlans(ctx context.Context) ([]models.MaintenancePlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM maintenance_plans ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("find plans: %w", err)
	}
	defer rows.Close()

	plans := []models.MaintenancePlan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func scanPlan(row scanner) (*models.MaintenancePlan, error) {
	var (
		plan      models.MaintenancePlan
		updatedAt string
	)
	if err := row.Scan(&plan.AssetID, &plan.IntervalValue, &plan.RemindBefore, &plan.Active, &plan.Notes, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	plan.UpdatedAt, err = parseTime(updatedAt)
	return &plan, err
}

// =============================================================================
// SERVICE LOGS
// =============================================================================

const serviceColumns = `seq, id, asset_id, performed_at, value_at_service, notes, created_at`

// InsertServiceLog inserts a service log; seq comes from the autoincrement key.
func (s *Store) InsertServiceLog(ctx context.Context, log models.ServiceLog) (*models.ServiceLog, error) {
	if log.ID == "" {
		log.ID = newID()
	}
	log.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO service_logs (id, asset_id, performed_at, value_at_service, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.AssetID, formatTime(log.PerformedAt), log.ValueAtService, log.Notes, formatTime(log.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert service log: %w", err)
	}
	if log.Seq, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	log.PerformedAt = log.PerformedAt.UTC()
	return &log, nil
}

// UpdateServiceLog applies a patch to a service log.
func (s *Store) UpdateServiceLog(ctx context.Context, id string, patch models.ServicePatch) (*models.ServiceLog, error) {
	sets := []string{}
	args := []any{}
	if patch.PerformedAt != nil {
		sets = append(sets, "performed_at = ?")
		args = append(args, formatTime(*patch.PerformedAt))
	}
	if patch.ValueAtService != nil {
		sets = append(sets, "value_at_service = ?")
		args = append(args, *patch.ValueAtService)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, `UPDATE service_logs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, fmt.Errorf("update service log: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, models.ErrServiceNotFound
		}
	}
	return s.FindServiceLogByID(ctx, id)
}

// DeleteServiceLog deletes a service log.
func (s *Store) DeleteServiceLog(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM service_logs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete service log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrServiceNotFound
	}
	return nil
}

// FindServiceLogByID finds a service log by its ID.
func (s *Store) FindServiceLogByID(ctx context.Context, id string) (*models.ServiceLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM service_logs WHERE id = ?`, id)
	log, err := scanServiceLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find service log: %w", err)
	}
	return log, nil
}

// FindServiceLogs lists the logs of an asset, most recent first.
func (s *Store) FindServiceLogs(ctx context.Context, assetID string) ([]models.ServiceLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serviceColumns+` FROM service_logs WHERE asset_id = ? ORDER BY performed_at DESC, seq DESC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("find service logs: %w", err)
	}
	defer rows.Close()

	logs := []models.ServiceLog{}
	for rows.Next() {
		log, err := scanServiceLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

// LatestServiceLog returns the maintenance baseline log of an asset, or nil.
func (s *Store) LatestServiceLog(ctx context.Context, assetID string) (*models.ServiceLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM service_logs WHERE asset_id = ? ORDER BY performed_at DESC, seq DESC LIMIT 1`, assetID)
	log, err := scanServiceLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest service log: %w", err)
	}
	return log, nil
}

func scanServiceLog(row scanner) (*models.ServiceLog, error) {
	var (
		log                    models.ServiceLog
		performedAt, createdAt string
	)
	if err := row.Scan(&log.Seq, &log.ID, &log.AssetID, &performedAt, &log.ValueAtService, &log.Notes, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if log.PerformedAt, err = parseTime(performedAt); err != nil {
		return nil, err
	}
	if log.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &log, nil
}

// =============================================================================
// FUEL EVENTS (append-only: no UPDATE or DELETE statements)
// =============================================================================

// InsertFuelEvent appends a fuel event.
func (s *Store) InsertFuelEvent(ctx context.Context, event models.FuelEvent) (*models.FuelEvent, error) {
	if event.ID == "" {
		event.ID = newID()
	}
	event.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fuel_events (id, asset_id, operator_id, date, amount, tank_fill, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AssetID, event.OperatorID, formatTime(event.Date), event.Amount.String(),
		string(event.TankFill), event.Notes, formatTime(event.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert fuel event: %w", err)
	}
	event.Date = event.Date.UTC()
	return &event, nil
}

// FindFuelEvents queries fuel events, most recent first.
func (s *Store) FindFuelEvents(ctx context.Context, f models.FuelFilter) ([]models.FuelEvent, error) {
	where := []string{"1 = 1"}
	args := []any{}
	if f.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, f.AssetID)
	}
	if f.OperatorID != "" {
		where = append(where, "operator_id = ?")
		args = append(args, f.OperatorID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "date < ?")
		args = append(args, formatTime(f.To))
	}
	query := `SELECT id, asset_id, operator_id, date, amount, tank_fill, notes, created_at FROM fuel_events
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY date DESC, created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find fuel events: %w", err)
	}
	defer rows.Close()

	events := []models.FuelEvent{}
	for rows.Next() {
		var (
			e                       models.FuelEvent
			date, amount, createdAt string
			tankFill                string
		)
		if err := rows.Scan(&e.ID, &e.AssetID, &e.OperatorID, &date, &amount, &tankFill, &e.Notes, &createdAt); err != nil {
			return nil, err
		}
		if e.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid stored fuel amount %q: %w", amount, err)
		}
		e.TankFill = models.TankFill(tankFill)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// PROFILES
// =============================================================================

const profileColumns = `id, name, email, role, created_at, updated_at`

// InsertProfile inserts a new profile.
func (s *Store) InsertProfile(ctx context.Context, profile models.Profile) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		profile.ID, profile.Name, profile.Email, string(profile.Role), now, now)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// FindProfileByID finds a profile by its ID.
func (s *Store) FindProfileByID(ctx context.Context, id string) (*models.Profile, error) {
	return findProfile(ctx, s.db, id)
}

func findProfile(ctx context.Context, q querier, id string) (*models.Profile, error) {
	row := q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return profile, nil
}

// FindProfiles lists profiles with any of the given roles, or all of them.
func (s *Store) FindProfiles(ctx context.Context, roles ...models.Role) ([]models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	args := make([]any, 0, len(roles))
	if len(roles) > 0 {
		placeholders := make([]string, len(roles))
		for i, r := range roles {
			placeholders[i] = "?"
			args = append(args, string(r))
		}
		query += ` WHERE role IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}
	defer rows.Close()

	profiles := []models.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// UpdateProfile checks the guard against the stored profile and applies name and role in
// one immediate transaction.
func (s *Store) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch, guard db.ProfileGuard) (*models.Profile, error) {
	var updated *models.Profile
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := findProfile(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := guard(*current); err != nil {
			return err
		}

		sets := []string{"updated_at = ?"}
		args := []any{formatTime(time.Now())}
		if patch.Name != nil {
			sets = append(sets, "name = ?")
			args = append(args, *patch.Name)
		}
		if patch.Role != nil {
			sets = append(sets, "role = ?")
			args = append(args, string(*patch.Role))
		}
		args = append(args, id, string(current.Role))

		res, err := tx.ExecContext(ctx, `UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = ? AND role = ?`, args...)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: profile changed during update", models.ErrConflict)
		}
		updated, err = findProfile(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanProfile(row scanner) (*models.Profile, error) {
	var (
		p                    models.Profile
		role                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &role, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// CREDENTIALS
// =============================================================================

// InsertCredential inserts a login. A taken email yields models.ErrDuplicateEmail.
func (s *Store) InsertCredential(ctx context.Context, cred models.Credential) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO credentials (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		cred.ID, cred.Email, cred.PasswordHash, formatTime(time.Now()))
	if isUniqueViolation(err) {
		return models.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// FindCredentialByEmail finds a login by its email.
func (s *Store) FindCredentialByEmail(ctx context.Context, email string) (*models.Credential, error) {
	return s.findCredential(ctx, `email = ?`, email)
}

// FindCredentialByID finds a login by its ID.
func (s *Store) FindCredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	return s.findCredential(ctx, `id = ?`, id)
}

func (s *Store) findCredential(ctx context.Context, where string, arg any) (*models.Credential, error) {
	var (
		cred      models.Credential
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, created_at FROM credentials WHERE `+where, arg).
		Scan(&cred.ID, &cred.Email, &cred.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &cred, nil
}

// DeleteCredential deletes a login. Deleting a missing login is not an error.
func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
