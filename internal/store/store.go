// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the sqlite-backed run store: durable records of
// workflow runs, step executions, and assets with content hashes and
// versioning.
//
// Database location: ~/.forge/runs.db (configuration-driven).
//
// The store is safe for a single runner; writes are transactional and
// flushed before each call returns. Concurrent runners must each open
// their own Store.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed persistence layer.
type Store struct {
	db   *sql.DB
	path string
}

// Run is a persisted workflow run record.
type Run struct {
	ID           string
	ProjectID    string
	RecipePath   string
	RecipeName   string
	Status       string
	Inputs       map[string]interface{}
	Outputs      map[string]interface{}
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	RunDirectory string
}

// StepExecution is a persisted step record, unique per (run, step).
type StepExecution struct {
	RunID        string
	StepID       string
	StepName     string
	Status       string
	Inputs       map[string]interface{}
	Outputs      map[string]interface{}
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Asset is a tracked file with content hash and versions.
type Asset struct {
	ID        string
	ProjectID string
	RunID     string
	Type      string
	Name      string
	FilePath  string
	FileHash  string
	FileSize  int64
	Metadata  map[string]interface{}
	Tags      []string
	CreatedAt time.Time
}

// Stats aggregates run counts for a project or the whole store.
type Stats struct {
	Runs RunStats `json:"runs"`
}

// RunStats holds run totals by terminal status.
type RunStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Open creates or opens the store at the given path, creating parent
// directories and running migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		path = filepath.Join(home, ".forge", "runs.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// WAL mode for better concurrency between the runner and readers.
	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			metadata TEXT DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			project_id TEXT REFERENCES projects(id),
			recipe_path TEXT NOT NULL,
			recipe_name TEXT,
			status TEXT DEFAULT 'pending',
			inputs TEXT DEFAULT '{}',
			outputs TEXT DEFAULT '{}',
			error_message TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			run_directory TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS step_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES workflow_runs(id),
			step_id TEXT NOT NULL,
			step_name TEXT,
			status TEXT DEFAULT 'pending',
			inputs TEXT DEFAULT '{}',
			outputs TEXT DEFAULT '{}',
			error_message TEXT,
			started_at TEXT,
			completed_at TEXT,
			UNIQUE(run_id, step_id)
		)`,

		`CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			project_id TEXT REFERENCES projects(id),
			run_id TEXT REFERENCES workflow_runs(id),
			asset_type TEXT NOT NULL,
			name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_hash TEXT,
			file_size INTEGER,
			metadata TEXT DEFAULT '{}',
			tags TEXT DEFAULT '[]',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS asset_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_id TEXT NOT NULL REFERENCES assets(id),
			version INTEGER NOT NULL,
			file_path TEXT NOT NULL,
			file_hash TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			notes TEXT,
			UNIQUE(asset_id, version)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_project ON workflow_runs(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run ON step_executions(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_project ON assets(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_type ON assets(asset_type)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// newID returns a new opaque 8-character identifier.
func newID() string {
	return uuid.NewString()[:8]
}

// marshalJSON serializes structured fields. When the value cannot be
// encoded as JSON, the %v string form of the whole value is stored instead;
// nested values are not converted one by one.
func marshalJSON(v interface{}) string {
	switch m := v.(type) {
	case nil:
		return "{}"
	case map[string]interface{}:
		if m == nil {
			return "{}"
		}
	case map[string]map[string]interface{}:
		if m == nil {
			return "{}"
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, err = json.Marshal(fmt.Sprintf("%v", v))
		if err != nil {
			return "{}"
		}
	}
	return string(data)
}

func nowString() string {
	return time.Now().Format(time.RFC3339)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s.String); err == nil {
			return &t
		}
	}
	return nil
}

// StartRun creates a new running record and returns the run id. If a
// project is referenced its updated_at is bumped in the same transaction.
func (s *Store) StartRun(ctx context.Context, recipePath string, inputs map[string]interface{}, projectID, runDir string) (string, error) {
	runID := newID()
	recipeName := strings.TrimSuffix(filepath.Base(recipePath), filepath.Ext(recipePath))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_runs
		 (id, project_id, recipe_path, recipe_name, status, inputs, started_at, run_directory)
		 VALUES (?, ?, ?, ?, 'running', ?, ?, ?)`,
		runID, nullable(projectID), recipePath, recipeName,
		marshalJSON(inputs), nowString(), runDir,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create run record: %w", err)
	}

	if projectID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET updated_at = ? WHERE id = ?`,
			nowString(), projectID,
		); err != nil {
			return "", fmt.Errorf("failed to update project: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run record: %w", err)
	}
	return runID, nil
}

// CompleteRun transitions a run to completed with its final outputs.
func (s *Store) CompleteRun(ctx context.Context, runID string, outputs map[string]map[string]interface{}) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs
		 SET status = 'completed', outputs = ?, completed_at = ?
		 WHERE id = ?`,
		marshalJSON(outputs), nowString(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// FailRun transitions a run to failed with an error message.
func (s *Store) FailRun(ctx context.Context, runID, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs
		 SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE id = ?`,
		errorMessage, nowString(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id. Returns nil when no record exists.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, recipe_path, recipe_name, status, inputs, outputs,
		        error_message, started_at, completed_at, created_at, run_directory
		 FROM workflow_runs WHERE id = ?`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by project and
// status. Limit defaults to 50.
func (s *Store) ListRuns(ctx context.Context, projectID, status string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, project_id, recipe_path, recipe_name, status, inputs, outputs,
	                 error_message, started_at, completed_at, created_at, run_directory
	          FROM workflow_runs WHERE 1=1`
	var params []interface{}
	if projectID != "" {
		query += " AND project_id = ?"
		params = append(params, projectID)
	}
	if status != "" {
		query += " AND status = ?"
		params = append(params, status)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var projectID, recipeName, errorMessage, runDirectory sql.NullString
	var inputs, outputs string
	var startedAt, completedAt, createdAt sql.NullString

	err := row.Scan(&run.ID, &projectID, &run.RecipePath, &recipeName, &run.Status,
		&inputs, &outputs, &errorMessage, &startedAt, &completedAt, &createdAt, &runDirectory)
	if err != nil {
		return nil, err
	}

	run.ProjectID = projectID.String
	run.RecipeName = recipeName.String
	run.ErrorMessage = errorMessage.String
	run.RunDirectory = runDirectory.String
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseTime(completedAt)
	if t := parseTime(createdAt); t != nil {
		run.CreatedAt = *t
	}
	json.Unmarshal([]byte(inputs), &run.Inputs)
	json.Unmarshal([]byte(outputs), &run.Outputs)
	return &run, nil
}

// StartStep records a step entering the running state. Re-entry of the
// same (run_id, step_id) replaces the prior attempt atomically, which is
// what the refinement loop relies on.
func (s *Store) StartStep(ctx context.Context, runID, stepID, stepName string, inputs map[string]interface{}) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO step_executions
		 (run_id, step_id, step_name, status, inputs, started_at)
		 VALUES (?, ?, ?, 'running', ?, ?)`,
		runID, stepID, stepName, marshalJSON(inputs), nowString(),
	)
	if err != nil {
		return fmt.Errorf("failed to record step start: %w", err)
	}
	return nil
}

// CompleteStep finalizes a step as completed with its outputs.
func (s *Store) CompleteStep(ctx context.Context, runID, stepID string, outputs map[string]interface{}) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE step_executions
		 SET status = 'completed', outputs = ?, completed_at = ?
		 WHERE run_id = ? AND step_id = ?`,
		marshalJSON(outputs), nowString(), runID, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to record step completion: %w", err)
	}
	return nil
}

// FailStep finalizes a step as failed with an error message.
func (s *Store) FailStep(ctx context.Context, runID, stepID, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE step_executions
		 SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE run_id = ? AND step_id = ?`,
		errorMessage, nowString(), runID, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to record step failure: %w", err)
	}
	return nil
}

// CompletedSteps returns the outputs of every completed step of a run,
// keyed by step id. This is the basis for a future resume mode.
func (s *Store) CompletedSteps(ctx context.Context, runID string) (map[string]map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, outputs FROM step_executions
		 WHERE run_id = ? AND status = 'completed'`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed steps: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]map[string]interface{})
	for rows.Next() {
		var stepID, outputs string
		if err := rows.Scan(&stepID, &outputs); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(outputs), &out); err != nil {
			out = map[string]interface{}{}
		}
		completed[stepID] = out
	}
	return completed, rows.Err()
}

// ListSteps returns the step executions of a run in insertion order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_id, step_name, status, inputs, outputs, error_message,
		        started_at, completed_at
		 FROM step_executions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*StepExecution
	for rows.Next() {
		var step StepExecution
		var stepName, errorMessage sql.NullString
		var inputs, outputs string
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&step.RunID, &step.StepID, &stepName, &step.Status,
			&inputs, &outputs, &errorMessage, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.StepName = stepName.String
		step.ErrorMessage = errorMessage.String
		step.StartedAt = parseTime(startedAt)
		step.CompletedAt = parseTime(completedAt)
		json.Unmarshal([]byte(inputs), &step.Inputs)
		json.Unmarshal([]byte(outputs), &step.Outputs)
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// RegisterAsset hashes and sizes the file, then writes the asset row and
// its version-1 row in a single transaction. The hash is the first 16 hex
// characters of the file's SHA-256.
func (s *Store) RegisterAsset(ctx context.Context, filePath, assetType, name, projectID, runID string, metadata map[string]interface{}, tags []string) (string, error) {
	assetID := newID()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}

	var fileHash string
	var fileSize int64
	if info, err := os.Stat(filePath); err == nil {
		fileSize = info.Size()
		fileHash, err = hashFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to hash asset: %w", err)
		}
	}

	if tags == nil {
		tags = []string{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assets
		 (id, project_id, run_id, asset_type, name, file_path, file_hash, file_size, metadata, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assetID, nullable(projectID), nullable(runID), assetType, name, filePath,
		fileHash, fileSize, marshalJSON(metadata), marshalJSON(tags),
	)
	if err != nil {
		return "", fmt.Errorf("failed to register asset: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO asset_versions (asset_id, version, file_path, file_hash)
		 VALUES (?, 1, ?, ?)`,
		assetID, filePath, fileHash,
	)
	if err != nil {
		return "", fmt.Errorf("failed to register asset version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit asset: %w", err)
	}
	return assetID, nil
}

// GetAsset retrieves an asset by id. Returns nil when no record exists.
func (s *Store) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, run_id, asset_type, name, file_path, file_hash,
		        file_size, metadata, tags, created_at
		 FROM assets WHERE id = ?`, assetID)

	var asset Asset
	var projectID, runID, fileHash sql.NullString
	var fileSize sql.NullInt64
	var metadata, tags string
	var createdAt sql.NullString

	err := row.Scan(&asset.ID, &projectID, &runID, &asset.Type, &asset.Name,
		&asset.FilePath, &fileHash, &fileSize, &metadata, &tags, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	asset.ProjectID = projectID.String
	asset.RunID = runID.String
	asset.FileHash = fileHash.String
	asset.FileSize = fileSize.Int64
	if t := parseTime(createdAt); t != nil {
		asset.CreatedAt = *t
	}
	json.Unmarshal([]byte(metadata), &asset.Metadata)
	json.Unmarshal([]byte(tags), &asset.Tags)
	return &asset, nil
}

// GetStats aggregates run totals, optionally scoped to a project.
func (s *Store) GetStats(ctx context.Context, projectID string) (*Stats, error) {
	query := `SELECT COUNT(*),
	                 COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END), 0),
	                 COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0)
	          FROM workflow_runs`
	var params []interface{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		params = append(params, projectID)
	}

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, params...).Scan(
		&stats.Runs.Total, &stats.Runs.Completed, &stats.Runs.Failed,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	return &stats, nil
}

// hashFile returns the first 16 hex characters of the file's SHA-256.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
