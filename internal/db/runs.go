package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motiongen/internal/dispatch"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one execution of the control loop. Initial is the base position
// recorded when INIT began.
type Run struct {
	ID         string      `json:"run_id"`
	Started    time.Time   `json:"started"`
	Finished   *time.Time  `json:"finished,omitempty"`
	ConfigJSON string      `json:"config"`
	Version    string      `json:"version"`
	Initial    *[3]float64 `json:"initial,omitempty"`
	Ticks      uint64      `json:"ticks"`
	ExitReason string      `json:"exit_reason,omitempty"`
}

// NewRun returns a Run with a fresh ID.
func NewRun(started time.Time, configJSON, version string) *Run {
	return &Run{
		ID:         uuid.NewString(),
		Started:    started,
		ConfigJSON: configJSON,
		Version:    version,
	}
}

func (db *DB) CreateRun(ctx context.Context, r *Run) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_unix_nanos, config_json, version) VALUES (?, ?, ?, ?)`,
		r.ID, r.Started.UnixNano(), r.ConfigJSON, r.Version)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun records how a run ended. initial may be nil when the run never
// passed the sensor barrier.
func (db *DB) FinishRun(ctx context.Context, id string, finished time.Time, ticks uint64, initial *[3]float64, reason string) error {
	var x, y, z sql.NullFloat64
	if initial != nil {
		x = sql.NullFloat64{Float64: initial[0], Valid: true}
		y = sql.NullFloat64{Float64: initial[1], Valid: true}
		z = sql.NullFloat64{Float64: initial[2], Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		UPDATE runs
		SET finished_unix_nanos = ?, ticks = ?, initial_x = ?, initial_y = ?, initial_z = ?, exit_reason = ?
		WHERE run_id = ?`,
		finished.UnixNano(), int64(ticks), x, y, z, reason, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `run_id, started_unix_nanos, finished_unix_nanos, config_json, version,
	initial_x, initial_y, initial_z, ticks, exit_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		x, y, z  sql.NullFloat64
		ticks    int64
		reason   sql.NullString
	)
	if err := s.Scan(&r.ID, &started, &finished, &r.ConfigJSON, &r.Version, &x, &y, &z, &ticks, &reason); err != nil {
		return Run{}, err
	}
	r.Started = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		r.Finished = &t
	}
	if x.Valid && y.Valid && z.Valid {
		r.Initial = &[3]float64{x.Float64, y.Float64, z.Float64}
	}
	r.Ticks = uint64(ticks)
	r.ExitReason = reason.String
	return r, nil
}

// Runs lists every run, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run looks up a run by ID. The ID "latest" selects the newest run.
func (db *DB) Run(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`
	args := []any{id}
	if id == "latest" {
		query = `SELECT ` + runColumns + ` FROM runs ORDER BY started_unix_nanos DESC LIMIT 1`
		args = nil
	}
	r, err := scanRun(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertCommands stores cmds for a run in one transaction.
func (db *DB) InsertCommands(ctx context.Context, runID string, cmds []*dispatch.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO commands (run_id, tick, elapsed, phase, base_x, base_y, base_z, command_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cmds {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode command %d: %w", c.Tick, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, int64(c.Tick), c.Elapsed, c.Phase,
			c.BasePos[0], c.BasePos[1], c.BasePos[2], string(body)); err != nil {
			return fmt.Errorf("insert command %d: %w", c.Tick, err)
		}
	}
	return tx.Commit()
}

// TrajectoryPoint is the base position commanded on one tick.
type TrajectoryPoint struct {
	Tick    uint64     `json:"tick"`
	Elapsed float64    `json:"elapsed"`
	Phase   string     `json:"phase"`
	BasePos [3]float64 `json:"base_pos"`
}

// Trajectory returns the recorded base positions of a run in tick order.
// An empty phase selects every phase.
func (db *DB) Trajectory(ctx context.Context, runID, phase string) ([]TrajectoryPoint, error) {
	query := `SELECT tick, elapsed, phase, base_x, base_y, base_z FROM commands WHERE run_id = ?`
	args := []any{runID}
	if phase != "" {
		query += ` AND phase = ?`
		args = append(args, phase)
	}
	query += ` ORDER BY tick`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []TrajectoryPoint{}
	for rows.Next() {
		var p TrajectoryPoint
		var tick int64
		if err := rows.Scan(&tick, &p.Elapsed, &p.Phase, &p.BasePos[0], &p.BasePos[1], &p.BasePos[2]); err != nil {
			return nil, err
		}
		p.Tick = uint64(tick)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Command returns the full command recorded for a tick.
func (db *DB) Command(ctx context.Context, runID string, tick uint64) (*dispatch.Command, error) {
	var body string
	err := db.QueryRowContext(ctx, `SELECT command_json FROM commands WHERE run_id = ? AND tick = ?`,
		runID, int64(tick)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s has no command for tick %d", runID, tick)
	}
	if err != nil {
		return nil, err
	}
	var cmd dispatch.Command
	if err := json.Unmarshal([]byte(body), &cmd); err != nil {
		return nil, fmt.Errorf("decode command %d: %w", tick, err)
	}
	return &cmd, nil
}
