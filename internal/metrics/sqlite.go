package metrics

import (
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	experiment TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER
);
CREATE TABLE IF NOT EXISTS params(
	run_id TEXT NOT NULL REFERENCES runs(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY(run_id, key)
);
CREATE TABLE IF NOT EXISTS metrics(
	run_id TEXT NOT NULL REFERENCES runs(id),
	name TEXT NOT NULL,
	value REAL NOT NULL,
	step INTEGER NOT NULL,
	epoch INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS metrics_run_name ON metrics(run_id, name, step);
`

// Store is an SQLite experiment store. Every training run (a plain run or
// one trial of a search) writes to its own row in runs through a
// SQLiteSink.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics db %s: %w", path, err)
	}
	// Concurrent trials share the handle; one connection serialises writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics db schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRun inserts a RUNNING run and returns a sink bound to it. An empty id
// gets a random one.
func (s *Store) NewRun(id, experiment, name string) (*SQLiteSink, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(
		"INSERT INTO runs(id, experiment, name, status, started_at) VALUES(?,?,?,?,?)",
		id, experiment, name, string(RunStatusRunning), time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &SQLiteSink{db: s.db, runID: id}, nil
}

// Metrics returns the points of one metric of a run ordered by step.
func (s *Store) Metrics(runID, name string) ([]Point, error) {
	rows, err := s.db.Query(
		"SELECT name, value, step, epoch FROM metrics WHERE run_id = ? AND name = ? ORDER BY step, rowid",
		runID, name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Name, &p.Value, &p.Step, &p.Epoch); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RunStatus returns the recorded status of a run.
func (s *Store) RunStatus(runID string) (RunStatus, error) {
	var status string
	err := s.db.QueryRow("SELECT status FROM runs WHERE id = ?", runID).Scan(&status)
	return RunStatus(status), err
}

// SQLiteSink records one run in a Store. Write errors do not interrupt
// training; the first one is kept and returned by Err.
type SQLiteSink struct {
	db    *sql.DB
	runID string

	mu  sync.Mutex
	err error
}

// RunID returns the run id.
func (s *SQLiteSink) RunID() string {
	return s.runID
}

func (s *SQLiteSink) exec(query string, args ...any) {
	if _, err := s.db.Exec(query, args...); err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
}

// LogParameters implements Sink. Values are stored in their %v form.
func (s *SQLiteSink) LogParameters(params map[string]any) {
	for _, k := range sortedKeys(params) {
		s.exec("INSERT OR REPLACE INTO params(run_id, key, value) VALUES(?,?,?)", s.runID, k, fmt.Sprint(params[k]))
	}
}

// LogMetric implements Sink.
func (s *SQLiteSink) LogMetric(name string, value float64, step int64, epoch int) {
	s.exec("INSERT INTO metrics(run_id, name, value, step, epoch) VALUES(?,?,?,?,?)", s.runID, name, value, step, epoch)
}

// End implements Ender.
func (s *SQLiteSink) End(status RunStatus) {
	s.exec("UPDATE runs SET status = ?, ended_at = ? WHERE id = ?", string(status), time.Now().Unix(), s.runID)
}

// Err returns the first write error.
func (s *SQLiteSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
