// Package usage is the agent's append-only ledger of model rounds and
// invocations, kept in SQLite. It answers "how many tokens did idle
// ticks cost this week" and "how often does the model refuse to call a
// tool".
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/vercade/internal/config"
)

// Triggers recorded with every row.
const (
	TriggerMessage  = "message"
	TriggerIdle     = "idle"
	TriggerFollowUp = "follow_up"
)

// Record is the token usage of one model round.
type Record struct {
	ID           string
	Timestamp    time.Time
	RequestID    string
	Trigger      string
	Conversation string
	Model        string
	Provider     string
	Round        int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Invocation summarizes one run of the reasoning loop.
type Invocation struct {
	ID           string
	RequestID    string
	Trigger      string
	Conversation string
	Model        string
	StartedAt    time.Time
	Duration     time.Duration
	Rounds       int
	ToolCalls    int
	// Outcome is "ok", "no_tool_calls", "round_limit", "unknown_tool",
	// "cancelled" or "error".
	Outcome string
	Error   string
}

// Summary holds aggregated token and cost totals.
type Summary struct {
	TotalRecords      int     `json:"total_records"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

// Store is the SQLite ledger. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	pricing map[string]config.PricingEntry
}

// NewStore opens (creating if needed) the ledger at dbPath. pricing may
// be nil.
func NewStore(dbPath string, pricing map[string]config.PricingEntry) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db, pricing: pricing}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		trigger_kind  TEXT NOT NULL,
		conversation  TEXT,
		model         TEXT NOT NULL,
		provider      TEXT NOT NULL,
		round         INTEGER NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd      REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_request ON usage_records(request_id);

	CREATE TABLE IF NOT EXISTS invocations (
		id           TEXT PRIMARY KEY,
		request_id   TEXT NOT NULL UNIQUE,
		trigger_kind TEXT NOT NULL,
		conversation TEXT,
		model        TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		duration_ms  INTEGER NOT NULL,
		rounds       INTEGER NOT NULL,
		tool_calls   INTEGER NOT NULL,
		outcome      TEXT NOT NULL,
		error        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_started ON invocations(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// RecordRound persists rec. An empty ID gets a UUIDv7, a zero
// Timestamp gets now, and a zero cost is computed from the pricing
// table.
func (s *Store) RecordRound(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := newID()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.CostUSD == 0 {
		rec.CostUSD = ComputeCost(rec.Model, rec.InputTokens, rec.OutputTokens, s.pricing)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, request_id, trigger_kind, conversation, model, provider,
			 round, input_tokens, output_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.RequestID,
		rec.Trigger,
		rec.Conversation,
		rec.Model,
		rec.Provider,
		rec.Round,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// RecordInvocation persists inv.
func (s *Store) RecordInvocation(ctx context.Context, inv Invocation) error {
	if inv.ID == "" {
		id, err := newID()
		if err != nil {
			return fmt.Errorf("generate invocation ID: %w", err)
		}
		inv.ID = id
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations
			(id, request_id, trigger_kind, conversation, model, started_at,
			 duration_ms, rounds, tool_calls, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.RequestID,
		inv.Trigger,
		inv.Conversation,
		inv.Model,
		inv.StartedAt.UTC().Format(time.RFC3339),
		inv.Duration.Milliseconds(),
		inv.Rounds,
		inv.ToolCalls,
		inv.Outcome,
		inv.Error,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// Summary returns totals for rounds within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model totals within [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "model", start, end)
}

// SummaryByTrigger returns per-trigger totals within [start, end).
func (s *Store) SummaryByTrigger(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "trigger_kind", start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column only ever comes from the methods above.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// Outcomes counts invocations by outcome within [start, end).
func (s *Store) Outcomes(ctx context.Context, start, end time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM invocations
		 WHERE started_at >= ? AND started_at < ?
		 GROUP BY outcome`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcomes: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// ComputeCost prices a round. model may carry a "provider/" prefix; the
// table is consulted with the full name first, then without the prefix.
// Unlisted models are free.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	entry, ok := pricing[model]
	if !ok {
		if _, bare, cut := strings.Cut(model, "/"); cut {
			entry, ok = pricing[bare]
		}
	}
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}
