// Package store provides SQLite-backed persistence for run observations and
// decision records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the crashcorpus SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode; `watch` and a manual `run` may share the file.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		revision TEXT NOT NULL,
		test_sig TEXT NOT NULL,
		output_sig TEXT NOT NULL,
		build_sig TEXT NOT NULL,
		machine_sig TEXT NOT NULL,
		seen_count INTEGER NOT NULL DEFAULT 1,
		test_path TEXT,
		exit_code INTEGER NOT NULL,
		observed_at DATETIME NOT NULL,
		UNIQUE (revision, test_sig, output_sig, build_sig, machine_sig)
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		test_path TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_observations_test_sig ON observations(test_sig);
	CREATE INDEX IF NOT EXISTS idx_pdr_test_path ON pdr(test_path);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Observation Operations ---

// RecordObservation stores obs, or bumps the count of an identical earlier
// observation. The stored row is returned.
func (s *Store) RecordObservation(obs *models.Observation) (*models.Observation, error) {
	now := time.Now().UTC()
	count := obs.Count
	if count <= 0 {
		count = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO observations (id, revision, test_sig, output_sig, build_sig, machine_sig, seen_count, test_path, exit_code, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (revision, test_sig, output_sig, build_sig, machine_sig)
		 DO UPDATE SET seen_count = seen_count + excluded.seen_count, observed_at = excluded.observed_at`,
		uuid.New().String(), obs.Revision, obs.TestSig, obs.OutputSig, obs.BuildSig, obs.MachineSig,
		count, obs.TestPath, obs.ExitCode, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert observation: %w", err)
	}

	return s.getObservation(obs)
}

func (s *Store) getObservation(key *models.Observation) (*models.Observation, error) {
	obs := &models.Observation{}
	var testPath sql.NullString
	err := s.db.QueryRow(
		`SELECT id, revision, test_sig, output_sig, build_sig, machine_sig, seen_count, test_path, exit_code, observed_at
		 FROM observations WHERE revision = ? AND test_sig = ? AND output_sig = ? AND build_sig = ? AND machine_sig = ?`,
		key.Revision, key.TestSig, key.OutputSig, key.BuildSig, key.MachineSig,
	).Scan(&obs.ID, &obs.Revision, &obs.TestSig, &obs.OutputSig, &obs.BuildSig, &obs.MachineSig, &obs.Count, &testPath, &obs.ExitCode, &obs.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("query observation: %w", err)
	}
	if testPath.Valid {
		obs.TestPath = testPath.String
	}
	return obs, nil
}

// ListObservations returns observations, optionally filtered by test hash.
func (s *Store) ListObservations(testSig string) ([]models.Observation, error) {
	query := `SELECT id, revision, test_sig, output_sig, build_sig, machine_sig, seen_count, test_path, exit_code, observed_at FROM observations`
	var args []interface{}

	if testSig != "" {
		query += ` WHERE test_sig = ?`
		args = append(args, testSig)
	}
	query += ` ORDER BY observed_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var obs models.Observation
		var testPath sql.NullString
		if err := rows.Scan(&obs.ID, &obs.Revision, &obs.TestSig, &obs.OutputSig, &obs.BuildSig, &obs.MachineSig, &obs.Count, &testPath, &obs.ExitCode, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if testPath.Valid {
			obs.TestPath = testPath.String
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, testPath, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TestPath:   testPath,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, test_path, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TestPath, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent decision records, optionally for one test.
func (s *Store) ListPDR(testPath string, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, action, inputs_hash, outcome, test_path, details, timestamp FROM pdr`
	var args []interface{}
	if testPath != "" {
		query += ` WHERE test_path = ?`
		args = append(args, testPath)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var testPath, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &testPath, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.TestPath = testPath.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
