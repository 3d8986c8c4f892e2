// Package store is the SQLite run log: one row per run, plus the telemetry
// frames, state-transition events and alert changes recorded during it.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/holla2040/hotfire/internal/ecu"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

type Run struct {
	ID         string     `json:"id"`
	Stand      string     `json:"stand"`
	Station    string     `json:"station"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Summary    string     `json:"summary"`
}

type Event struct {
	ID    int64  `json:"id"`
	RunID string `json:"run_id"`
	ecu.Transition
}

// AlertRecord is the active alert set after a change.
type AlertRecord struct {
	ID     int64    `json:"id"`
	RunID  string   `json:"run_id"`
	Time   float64  `json:"time_s"`
	Active []string `json:"active"`
}

// Batch is everything a Recorder collected between flushes.
type Batch struct {
	Frames []ecu.Telemetry
	Events []ecu.Transition
	Alerts []ecu.AlertReport
}

func (b Batch) empty() bool {
	return len(b.Frames) == 0 && len(b.Events) == 0 && len(b.Alerts) == 0
}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	// One connection: :memory: gives each pool connection its own database.
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    stand TEXT NOT NULL,
    station TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL,
    summary TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS telemetry (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    time_s REAL NOT NULL,
    frame TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS telemetry_run ON telemetry(run_id, time_s);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    time_s REAL NOT NULL,
    subsystem TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    time_s REAL NOT NULL,
    active TEXT NOT NULL DEFAULT ''
);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun starts a new run of stand and returns it.
func (s *Store) CreateRun(stand, station string) (*Run, error) {
	r := &Run{
		ID:        uuid.New().String(),
		Stand:     stand,
		Station:   station,
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, stand, station, started_at, status, summary) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Stand, r.Station, r.StartedAt.Format(time.RFC3339Nano), r.Status, "",
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

func (s *Store) FinishRun(id, status, summary string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, summary = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), status, summary, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `id, stand, station, started_at, finished_at, status, summary`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	if err := row.Scan(&r.ID, &r.Stand, &r.Station, &startedAt, &finishedAt, &r.Status, &r.Summary); err != nil {
		return r, err
	}
	var err error
	r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return r, err
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return r, err
		}
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, _rowid_ DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
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

// DeleteRun removes a run and everything recorded during it.
func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"telemetry", "events", "alerts"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Recorded data
// ---------------------------------------------------------------------------

// RecordBatch writes a batch in one transaction.
func (s *Store) RecordBatch(runID string, b Batch) error {
	if b.empty() {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range b.Frames {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal frame: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO telemetry (run_id, time_s, frame) VALUES (?, ?, ?)`, runID, f.Time, string(data)); err != nil {
			return fmt.Errorf("insert telemetry: %w", err)
		}
	}
	for _, e := range b.Events {
		if _, err := tx.Exec(
			`INSERT INTO events (run_id, time_s, subsystem, from_state, to_state) VALUES (?, ?, ?, ?, ?)`,
			runID, e.Time, e.Subsystem, e.From, e.To,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	for _, a := range b.Alerts {
		if _, err := tx.Exec(
			`INSERT INTO alerts (run_id, time_s, active) VALUES (?, ?, ?)`,
			runID, a.Time, strings.Join(a.Alerts.Names(), ","),
		); err != nil {
			return fmt.Errorf("insert alerts: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) RecordTelemetry(runID string, frames ...ecu.Telemetry) error {
	return s.RecordBatch(runID, Batch{Frames: frames})
}

func (s *Store) RecordEvent(runID string, tr ecu.Transition) error {
	return s.RecordBatch(runID, Batch{Events: []ecu.Transition{tr}})
}

func (s *Store) RecordAlerts(runID string, r ecu.AlertReport) error {
	return s.RecordBatch(runID, Batch{Alerts: []ecu.AlertReport{r}})
}

// QueryTelemetry returns a run's frames in time order.
func (s *Store) QueryTelemetry(runID string) ([]ecu.Telemetry, error) {
	rows, err := s.db.Query(`SELECT frame FROM telemetry WHERE run_id = ? ORDER BY time_s ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	frames := []ecu.Telemetry{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var f ecu.Telemetry
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func (s *Store) QueryEvents(runID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, time_s, subsystem, from_state, to_state FROM events WHERE run_id = ? ORDER BY time_s ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Time, &e.Subsystem, &e.From, &e.To); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) QueryAlerts(runID string) ([]AlertRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, time_s, active FROM alerts WHERE run_id = ? ORDER BY time_s ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	records := []AlertRecord{}
	for rows.Next() {
		var a AlertRecord
		var active string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Time, &active); err != nil {
			return nil, err
		}
		a.Active = []string{}
		if active != "" {
			a.Active = strings.Split(active, ",")
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
