// Package persistence provides SQLite-based storage for runs, the grid
// geometry, and per-timestep cell state.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/urbansim/internal/engine"
	"github.com/talgya/urbansim/internal/urban"
	"github.com/talgya/urbansim/internal/world"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite connection for simulation results.
type DB struct {
	conn   *sqlx.DB
	logger *slog.Logger
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time keeps SQLite out of SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: slog.Default()}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// WithLogger sets the logger used for checkpoint reports.
func (db *DB) WithLogger(l *slog.Logger) *DB {
	if l != nil {
		db.logger = l
	}
	return db
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS simulation_run (
		run_id TEXT PRIMARY KEY,
		city_name TEXT NOT NULL,
		total_timesteps INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('created', 'running', 'completed', 'failed')),
		config_json TEXT NOT NULL,
		seed INTEGER NOT NULL,
		failed_timestep INTEGER,
		error TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS spatial_grid (
		grid_id TEXT PRIMARY KEY,
		q INTEGER NOT NULL,
		r INTEGER NOT NULL,
		area_sqkm REAL NOT NULL,
		polygon_wkt TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS simulation_state (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES simulation_run(run_id),
		timestep INTEGER NOT NULL,
		grid_id TEXT NOT NULL,
		population REAL NOT NULL,
		population_density REAL NOT NULL,
		avg_rent REAL NOT NULL,
		housing_units REAL NOT NULL,
		vacancy_rate REAL NOT NULL,
		employment REAL NOT NULL,
		unemployment_rate REAL NOT NULL,
		traffic_congestion REAL NOT NULL,
		public_transit_accessibility REAL NOT NULL,
		safety_score REAL NOT NULL,
		displacement_risk REAL NOT NULL,
		green_space_ratio REAL NOT NULL,
		air_quality_index REAL NOT NULL,
		commercial_vitality REAL NOT NULL,
		social_cohesion_index REAL NOT NULL,
		chargers_count REAL,
		ev_capacity_kw REAL,
		gentrification_index REAL,
		income_diversity_index REAL,
		segments_json TEXT NOT NULL,
		UNIQUE (run_id, timestep, grid_id)
	);

	CREATE INDEX IF NOT EXISTS idx_state_run_timestep ON simulation_state(run_id, timestep);
	CREATE INDEX IF NOT EXISTS idx_run_created ON simulation_run(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run is a row of simulation_run.
type Run struct {
	RunID          string  `db:"run_id" json:"run_id"`
	CityName       string  `db:"city_name" json:"city_name"`
	TotalTimesteps int     `db:"total_timesteps" json:"total_timesteps"`
	Status         string  `db:"status" json:"status"`
	ConfigJSON     string  `db:"config_json" json:"-"`
	Seed           int64   `db:"seed" json:"seed"`
	FailedTimestep *int    `db:"failed_timestep" json:"failed_timestep,omitempty"`
	Error          *string `db:"error" json:"error,omitempty"`
	CreatedAt      string  `db:"created_at" json:"created_at"`
	StartedAt      *string `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *string `db:"finished_at" json:"finished_at,omitempty"`
}

// Config returns the stored configuration as a generic JSON document.
func (r Run) Config() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(r.ConfigJSON), &out); err != nil {
		return nil, fmt.Errorf("run %s config: %w", r.RunID, err)
	}
	return out, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateRun inserts a run record in the created state. config is stored as
// JSON.
func (db *DB) CreateRun(ctx context.Context, runID, city string, timesteps int, seed int64, config any) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `INSERT INTO simulation_run
		(run_id, city_name, total_timesteps, status, config_json, seed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, city, timesteps, string(engine.StatusCreated), string(configJSON), seed, now(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// MarkRunning moves a created run to running.
func (db *DB) MarkRunning(ctx context.Context, runID string) error {
	return db.transition(ctx, runID, engine.StatusCreated, engine.StatusRunning,
		"started_at = ?", now())
}

// MarkCompleted moves a running run to completed.
func (db *DB) MarkCompleted(ctx context.Context, runID string) error {
	return db.transition(ctx, runID, engine.StatusRunning, engine.StatusCompleted,
		"finished_at = ?", now())
}

// MarkFailed moves a created or running run to failed, recording the
// timestep and error.
func (db *DB) MarkFailed(ctx context.Context, runID string, timestep int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := db.conn.ExecContext(ctx, `UPDATE simulation_run
		SET status = ?, failed_timestep = ?, error = ?, finished_at = ?
		WHERE run_id = ? AND status IN (?, ?)`,
		string(engine.StatusFailed), timestep, msg, now(),
		runID, string(engine.StatusCreated), string(engine.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("mark run %s failed: %w", runID, err)
	}
	return db.checkTransition(ctx, res, runID, engine.StatusFailed)
}

func (db *DB) transition(ctx context.Context, runID string, from, to engine.Status, set string, arg any) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE simulation_run SET status = ?, "+set+" WHERE run_id = ? AND status = ?",
		string(to), arg, runID, string(from),
	)
	if err != nil {
		return fmt.Errorf("mark run %s %s: %w", runID, to, err)
	}
	return db.checkTransition(ctx, res, runID, to)
}

func (db *DB) checkTransition(ctx context.Context, res sql.Result, runID string, to engine.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s: %w: %s -> %s", runID, engine.ErrInvalidTransition, run.Status, to)
}

// GetRun returns one run record.
func (db *DB) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	err := db.conn.GetContext(ctx, &r, "SELECT * FROM simulation_run WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	err := db.conn.SelectContext(ctx, &runs,
		"SELECT * FROM simulation_run ORDER BY created_at DESC, run_id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// SaveGrid upserts the geometry of every grid cell.
func (db *DB) SaveGrid(ctx context.Context, cells []world.GridCell) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO spatial_grid
		(grid_id, q, r, area_sqkm, polygon_wkt) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Coord.Q, c.Coord.R, c.AreaSqKm, c.Polygon.WKT()); err != nil {
			return fmt.Errorf("insert grid cell %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GridCell is a row of spatial_grid.
type GridCell struct {
	GridID     string  `db:"grid_id" json:"grid_id"`
	Q          int     `db:"q" json:"q"`
	R          int     `db:"r" json:"r"`
	AreaSqKm   float64 `db:"area_sqkm" json:"area_sqkm"`
	PolygonWKT string  `db:"polygon_wkt" json:"polygon_wkt"`
}

// Grid returns every stored grid cell ordered by id.
func (db *DB) Grid(ctx context.Context) ([]GridCell, error) {
	var cells []GridCell
	if err := db.conn.SelectContext(ctx, &cells, "SELECT * FROM spatial_grid ORDER BY grid_id"); err != nil {
		return nil, fmt.Errorf("list grid: %w", err)
	}
	return cells, nil
}

// State is a row of simulation_state. Extension columns are nil when the
// cell never carried the metric.
type State struct {
	ID                   int64    `db:"id" json:"-"`
	RunID                string   `db:"run_id" json:"run_id"`
	Timestep             int      `db:"timestep" json:"timestep"`
	GridID               string   `db:"grid_id" json:"grid_id"`
	Population           float64  `db:"population" json:"population"`
	PopulationDensity    float64  `db:"population_density" json:"population_density"`
	AvgRent              float64  `db:"avg_rent" json:"avg_rent"`
	HousingUnits         float64  `db:"housing_units" json:"housing_units"`
	VacancyRate          float64  `db:"vacancy_rate" json:"vacancy_rate"`
	Employment           float64  `db:"employment" json:"employment"`
	UnemploymentRate     float64  `db:"unemployment_rate" json:"unemployment_rate"`
	TrafficCongestion    float64  `db:"traffic_congestion" json:"traffic_congestion"`
	TransitAccessibility float64  `db:"public_transit_accessibility" json:"public_transit_accessibility"`
	SafetyScore          float64  `db:"safety_score" json:"safety_score"`
	DisplacementRisk     float64  `db:"displacement_risk" json:"displacement_risk"`
	GreenSpaceRatio      float64  `db:"green_space_ratio" json:"green_space_ratio"`
	AirQualityIndex      float64  `db:"air_quality_index" json:"air_quality_index"`
	CommercialVitality   float64  `db:"commercial_vitality" json:"commercial_vitality"`
	SocialCohesion       float64  `db:"social_cohesion_index" json:"social_cohesion_index"`
	ChargersCount        *float64 `db:"chargers_count" json:"chargers_count,omitempty"`
	EVCapacityKW         *float64 `db:"ev_capacity_kw" json:"ev_capacity_kw,omitempty"`
	GentrificationIndex  *float64 `db:"gentrification_index" json:"gentrification_index,omitempty"`
	IncomeDiversityIndex *float64 `db:"income_diversity_index" json:"income_diversity_index,omitempty"`
	SegmentsJSON         string   `db:"segments_json" json:"-"`
}

// Segments decodes the per-segment populations.
func (s State) Segments() (map[string]float64, error) {
	out := map[string]float64{}
	if err := json.Unmarshal([]byte(s.SegmentsJSON), &out); err != nil {
		return nil, fmt.Errorf("state %s@%d segments: %w", s.GridID, s.Timestep, err)
	}
	return out, nil
}

// optional returns nil for metrics the snapshot does not carry.
func optional(m urban.Metrics, name string) any {
	if v, ok := m[name]; ok {
		return v
	}
	return nil
}

// WriteSnapshots inserts a batch of snapshots in one transaction. A
// snapshot that already exists for its (run, timestep, grid) fails the
// whole batch with urban.ErrSnapshotExists.
func (db *DB) WriteSnapshots(ctx context.Context, snaps []urban.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO simulation_state
		(run_id, timestep, grid_id, population, population_density, avg_rent,
		 housing_units, vacancy_rate, employment, unemployment_rate,
		 traffic_congestion, public_transit_accessibility, safety_score,
		 displacement_risk, green_space_ratio, air_quality_index,
		 commercial_vitality, social_cohesion_index, chargers_count,
		 ev_capacity_kw, gentrification_index, income_diversity_index, segments_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range snaps {
		m := s.Metrics()
		segJSON, err := json.Marshal(s.Segments())
		if err != nil {
			return fmt.Errorf("encode segments %s: %w", s.GridID, err)
		}
		_, err = stmt.ExecContext(ctx,
			s.RunID, s.Timestep, s.GridID,
			m[urban.Population], m[urban.PopulationDensity], m[urban.AvgRent],
			m[urban.HousingUnits], m[urban.VacancyRate], m[urban.Employment], m[urban.UnemploymentRate],
			m[urban.TrafficCongestion], m[urban.TransitAccessibility], m[urban.SafetyScore],
			m[urban.DisplacementRisk], m[urban.GreenSpaceRatio], m[urban.AirQualityIndex],
			m[urban.CommercialVitality], m[urban.SocialCohesion],
			optional(m, urban.ChargersCount), optional(m, urban.EVCapacityKW),
			optional(m, urban.GentrificationIndex), optional(m, urban.IncomeDiversityIndex),
			string(segJSON),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("state %s@%d: %w", s.GridID, s.Timestep, urban.ErrSnapshotExists)
			}
			return fmt.Errorf("insert state %s@%d: %w", s.GridID, s.Timestep, err)
		}
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// WriteCheckpoint stores one checkpoint batch. It makes DB an engine.Sink.
func (db *DB) WriteCheckpoint(ctx context.Context, cp engine.Checkpoint) error {
	if err := db.WriteSnapshots(ctx, cp.Snapshots); err != nil {
		return fmt.Errorf("checkpoint %d: %w", cp.Timestep, err)
	}
	db.logger.Debug("checkpoint saved", "run_id", cp.RunID, "timestep", cp.Timestep, "cells", len(cp.Snapshots))
	return nil
}

// States returns every cell's state for one timestep, ordered by grid id.
func (db *DB) States(ctx context.Context, runID string, timestep int) ([]State, error) {
	var states []State
	err := db.conn.SelectContext(ctx, &states,
		"SELECT * FROM simulation_state WHERE run_id = ? AND timestep = ? ORDER BY grid_id",
		runID, timestep)
	if err != nil {
		return nil, fmt.Errorf("states %s@%d: %w", runID, timestep, err)
	}
	return states, nil
}

// Timesteps returns the checkpointed timesteps of a run in order.
func (db *DB) Timesteps(ctx context.Context, runID string) ([]int, error) {
	var ts []int
	err := db.conn.SelectContext(ctx, &ts,
		"SELECT DISTINCT timestep FROM simulation_state WHERE run_id = ? ORDER BY timestep",
		runID)
	if err != nil {
		return nil, fmt.Errorf("timesteps %s: %w", runID, err)
	}
	return ts, nil
}

// TimestepSummary aggregates one checkpoint across all cells.
type TimestepSummary struct {
	Timestep            int     `db:"timestep" json:"timestep"`
	Cells               int     `db:"cells" json:"cells"`
	TotalPopulation     float64 `db:"total_population" json:"total_population"`
	AvgRent             float64 `db:"avg_rent" json:"avg_rent"`
	AvgDisplacementRisk float64 `db:"avg_displacement_risk" json:"avg_displacement_risk"`
	AvgSafety           float64 `db:"avg_safety" json:"avg_safety"`
	AvgCongestion       float64 `db:"avg_congestion" json:"avg_congestion"`
	AvgGentrification   float64 `db:"avg_gentrification" json:"avg_gentrification"`
}

// Summary returns per-timestep aggregates of a run.
func (db *DB) Summary(ctx context.Context, runID string) ([]TimestepSummary, error) {
	var out []TimestepSummary
	err := db.conn.SelectContext(ctx, &out, `SELECT
			timestep,
			COUNT(*) AS cells,
			SUM(population) AS total_population,
			AVG(avg_rent) AS avg_rent,
			AVG(displacement_risk) AS avg_displacement_risk,
			AVG(safety_score) AS avg_safety,
			AVG(traffic_congestion) AS avg_congestion,
			AVG(COALESCE(gentrification_index, 0)) AS avg_gentrification
		FROM simulation_state
		WHERE run_id = ?
		GROUP BY timestep
		ORDER BY timestep`, runID)
	if err != nil {
		return nil, fmt.Errorf("summary %s: %w", runID, err)
	}
	return out, nil
}
