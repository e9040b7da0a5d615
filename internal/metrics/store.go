package metrics

import (
	"context"
	"fmt"
	"time"

	"menu-planner/internal/database"
	"menu-planner/internal/shared"

	"github.com/jmoiron/sqlx"
)

// ExecutionMetric records metadata for a single generation call.
type ExecutionMetric struct {
	RunID            string
	AgentName        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Timestamp        time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_metrics (run_id, agent_name, model, prompt_tokens, completion_tokens, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.AgentName, m.Model, m.PromptTokens, m.CompletionTokens, m.LatencyMS,
		ts.UTC().Format(database.TimeLayout))
	if err != nil {
		return fmt.Errorf("failed to record execution metric: %w", err)
	}
	return nil
}

// RecordMeta records metrics directly from shared.AgentMeta. Calls that
// consumed no tokens, such as timed out attempts, are skipped.
func (s *Store) RecordMeta(ctx context.Context, runID string, meta shared.AgentMeta) error {
	if meta.Usage.PromptTokens == 0 && meta.Usage.CompletionTokens == 0 {
		return nil
	}
	m := MapUsage(meta.AgentName, meta.Usage, meta.Latency)
	m.RunID = runID
	m.Timestamp = s.now()
	return s.Record(ctx, m)
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string `db:"day"`
	TotalPrompt     int    `db:"prompt"`
	TotalCompletion int    `db:"completion"`
	TotalExecution  int    `db:"executions"`
	AvgLatencyMS    int64  `db:"avg_latency"`
}

// GetDailyUsage retrieves usage for the last N days, newest first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := s.now().UTC().AddDate(0, 0, -days).Format(database.TimeLayout)

	var results []DailyUsage
	err := s.db.SelectContext(ctx, &results, `
		SELECT substr(timestamp, 1, 10) AS day,
		       COALESCE(SUM(prompt_tokens), 0) AS prompt,
		       COALESCE(SUM(completion_tokens), 0) AS completion,
		       COUNT(*) AS executions,
		       CAST(COALESCE(AVG(latency_ms), 0) AS INTEGER) AS avg_latency
		FROM execution_metrics
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily usage: %w", err)
	}
	return results, nil
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := s.now().UTC().AddDate(0, 0, -olderThanDays).Format(database.TimeLayout)

	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_metrics WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up execution metrics: %w", err)
	}
	return res.RowsAffected()
}

// MapUsage helper to convert shared.TokenUsage to ExecutionMetric.
func MapUsage(agentName string, usage shared.TokenUsage, latency time.Duration) ExecutionMetric {
	return ExecutionMetric{
		AgentName:        agentName,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
	}
}
