// Package storage provides the SQLite usage and run ledger.
//
// Information Hiding:
// - SQLite connection management hidden behind the Ledger type
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/agentgate/model"
)

// UsageRecord is one gateway call as written to the ledger.
type UsageRecord struct {
	RequestID        string
	Model            string
	Provider         string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          float64
	LatencyMs        float64
	Cached           bool
	Error            string
	CreatedAt        time.Time
}

// ModelUsage aggregates ledger rows for one model.
type ModelUsage struct {
	Model        string  `json:"model"`
	Requests     int64   `json:"requests"`
	CacheHits    int64   `json:"cache_hits"`
	Errors       int64   `json:"errors"`
	TotalTokens  int64   `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// SqliteStorage stores usage records and finished runs in SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS usage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			latency_ms REAL NOT NULL,
			cached INTEGER NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_model_time
		ON usage_records(model, created_at);

		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			input TEXT NOT NULL,
			model TEXT NOT NULL,
			result TEXT NOT NULL,
			error TEXT,
			iteration_limit_reached INTEGER NOT NULL,
			steps TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started
		ON runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordUsage appends one usage record.
func (s *SqliteStorage) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var requestID, errText interface{}
	if rec.RequestID != "" {
		requestID = rec.RequestID
	}
	if rec.Error != "" {
		errText = rec.Error
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
		(request_id, model, provider, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, cached, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		requestID,
		rec.Model,
		rec.Provider,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.CostUSD,
		rec.LatencyMs,
		boolToInt(rec.Cached),
		errText,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates usage per model since the given time.
// A zero since covers the whole ledger.
func (s *SqliteStorage) UsageSummary(ctx context.Context, since time.Time) ([]ModelUsage, error) {
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT model,
			COUNT(*),
			COALESCE(SUM(cached), 0),
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(AVG(latency_ms), 0)
		FROM usage_records
		WHERE created_at >= ?
		GROUP BY model
		ORDER BY COUNT(*) DESC, model`,
		sinceMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	summary := []ModelUsage{}
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Requests, &u.CacheHits, &u.Errors, &u.TotalTokens, &u.CostUSD, &u.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		summary = append(summary, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}
	return summary, nil
}

// SaveRun stores a finished run, replacing any run with the same ID.
func (s *SqliteStorage) SaveRun(ctx context.Context, run model.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	var errText interface{}
	if run.Error != "" {
		errText = run.Error
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, input, model, result, error, iteration_limit_reached, steps, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Input,
		run.Model,
		run.Result,
		errText,
		boolToInt(run.IterationLimitReached),
		string(steps),
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun loads a run with its full step trace.
// Returns nil, nil if not found.
func (s *SqliteStorage) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, input, model, result, error, iteration_limit_reached, steps, started_at, finished_at
		FROM runs WHERE id = ?`,
		id)

	run, err := scanRun(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs without their step traces.
func (s *SqliteStorage) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, input, model, result, error, iteration_limit_reached, '[]', started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner, withSteps bool) (model.Run, error) {
	var run model.Run
	var errText sql.NullString
	var limitReached int
	var steps string
	var startedAt, finishedAt int64

	err := row.Scan(
		&run.ID,
		&run.Input,
		&run.Model,
		&run.Result,
		&errText,
		&limitReached,
		&steps,
		&startedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return model.Run{}, err
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("failed to scan run: %w", err)
	}

	if errText.Valid {
		run.Error = errText.String
	}
	run.IterationLimitReached = limitReached != 0
	run.StartedAt = time.UnixMilli(startedAt)
	run.FinishedAt = time.UnixMilli(finishedAt)

	if withSteps {
		if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
			return model.Run{}, fmt.Errorf("failed to decode steps for run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
