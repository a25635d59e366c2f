// Package sqlite provides the SQLite persistence backend.
//
// SQLite is a lightweight, file-based database suitable for local
// development, tests and single-user deployments. Parameter vectors
// are stored as JSON strings in TEXT fields.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flashdeck/recall-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient creates a new SQLite store.
//
// Parameters:
//   - cfg: Configuration containing the database path
//
// Returns:
//   - *Client: The SQLite store instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS card_states (
			user_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			stability REAL NOT NULL DEFAULT 0,
			difficulty REAL NOT NULL DEFAULT 0,
			last_review DATETIME,
			next_review DATETIME NOT NULL,
			short_stability_minutes REAL,
			learning_review_count INTEGER NOT NULL DEFAULT 0,
			graduated_at DATETIME,
			critical_before DATETIME,
			high_risk_before DATETIME,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, card_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_states_due
			ON card_states(user_id, next_review)`,
		`CREATE INDEX IF NOT EXISTS idx_card_states_risk
			ON card_states(user_id, critical_before)`,
		`CREATE TABLE IF NOT EXISTS review_events (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			reviewed_at DATETIME NOT NULL,
			review_state TEXT NOT NULL,
			scheduled_days REAL NOT NULL DEFAULT 0,
			elapsed_days REAL NOT NULL DEFAULT 0,
			stability_before REAL NOT NULL DEFAULT 0,
			stability_after REAL NOT NULL DEFAULT 0,
			difficulty_before REAL NOT NULL DEFAULT 0,
			difficulty_after REAL NOT NULL DEFAULT 0,
			retrievability REAL NOT NULL DEFAULT 0,
			duration_millis INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_review_events_card
			ON review_events(user_id, card_id, reviewed_at)`,
		`CREATE TABLE IF NOT EXISTS day_states (
			user_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			day TEXT NOT NULL,
			iteration INTEGER NOT NULL DEFAULT 0,
			reviews_today INTEGER NOT NULL DEFAULT 0,
			consecutive_successes INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, card_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS user_params (
			user_id TEXT PRIMARY KEY,
			weights TEXT NOT NULL,
			short_term_params TEXT NOT NULL,
			target_retention REAL NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a single SQLite transaction.
func (c *Client) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithinTx: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

// GetUserParams loads a user's fitted parameters.
func (c *Client) GetUserParams(ctx context.Context, userID string) (*storage.UserParamsRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT user_id, weights, short_term_params, target_retention, updated_at
		FROM user_params WHERE user_id = ?
	`, userID)

	var rec storage.UserParamsRecord
	var weightsJSON, shortJSON string
	err := row.Scan(&rec.UserID, &weightsJSON, &shortJSON, &rec.TargetRetention, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetUserParams: user %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetUserParams: %w", err)
	}
	if err := json.Unmarshal([]byte(weightsJSON), &rec.Weights); err != nil {
		return nil, fmt.Errorf("GetUserParams: decode weights: %w", err)
	}
	if err := json.Unmarshal([]byte(shortJSON), &rec.ShortTermParams); err != nil {
		return nil, fmt.Errorf("GetUserParams: decode short-term params: %w", err)
	}
	return &rec, nil
}

// PutUserParams replaces a user's fitted parameters wholesale.
func (c *Client) PutUserParams(ctx context.Context, rec *storage.UserParamsRecord) error {
	weightsJSON, err := json.Marshal(rec.Weights)
	if err != nil {
		return fmt.Errorf("PutUserParams: %w", err)
	}
	shortJSON, err := json.Marshal(rec.ShortTermParams)
	if err != nil {
		return fmt.Errorf("PutUserParams: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO user_params (user_id, weights, short_term_params, target_retention, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			weights = excluded.weights,
			short_term_params = excluded.short_term_params,
			target_retention = excluded.target_retention,
			updated_at = excluded.updated_at
	`, rec.UserID, string(weightsJSON), string(shortJSON), rec.TargetRetention, time.Now())
	if err != nil {
		return fmt.Errorf("PutUserParams: %w", err)
	}
	return nil
}

// ListCardStates returns a user's card states due at or before the
// given instant, ordered by next review time.
func (c *Client) ListCardStates(ctx context.Context, userID string, dueBefore time.Time, limit int) ([]*storage.CardStateRecord, error) {
	query := `
		SELECT user_id, card_id, phase, stability, difficulty, last_review,
			next_review, short_stability_minutes, learning_review_count,
			graduated_at, critical_before, high_risk_before, version, updated_at
		FROM card_states
		WHERE user_id = ? AND next_review <= ?
		ORDER BY next_review`
	args := []interface{}{userID, dueBefore}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCardStates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.CardStateRecord
	for rows.Next() {
		rec, err := scanCardState(rows)
		if err != nil {
			return nil, fmt.Errorf("ListCardStates: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCardStates: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (c *Client) Close() error {
	return c.db.Close()
}

// sqliteTx implements storage.Tx over a *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

// GetCardState loads a card's state within the transaction.
func (t *sqliteTx) GetCardState(ctx context.Context, userID, cardID string) (*storage.CardStateRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_id, card_id, phase, stability, difficulty, last_review,
			next_review, short_stability_minutes, learning_review_count,
			graduated_at, critical_before, high_risk_before, version, updated_at
		FROM card_states WHERE user_id = ? AND card_id = ?
	`, userID, cardID)
	rec, err := scanCardState(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetCardState: card %s: %w", cardID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetCardState: %w", err)
	}
	return rec, nil
}

// PutCardState inserts or updates a card's state with an optimistic
// version check.
func (t *sqliteTx) PutCardState(ctx context.Context, rec *storage.CardStateRecord, expectedVersion int64) error {
	now := time.Now()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE card_states SET
			phase = ?, stability = ?, difficulty = ?, last_review = ?,
			next_review = ?, short_stability_minutes = ?, learning_review_count = ?,
			graduated_at = ?, critical_before = ?, high_risk_before = ?,
			version = version + 1, updated_at = ?
		WHERE user_id = ? AND card_id = ? AND version = ?
	`, rec.Phase, rec.Stability, rec.Difficulty, nullTime(rec.LastReview),
		rec.NextReview, nullFloat(rec.ShortStabilityMinutes), rec.LearningReviewCount,
		nullTime(rec.GraduatedAt), nullTime(rec.CriticalBefore), nullTime(rec.HighRiskBefore),
		now, rec.UserID, rec.CardID, expectedVersion)
	if err != nil {
		return fmt.Errorf("PutCardState: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("PutCardState: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if expectedVersion != 0 {
		return fmt.Errorf("PutCardState: card %s at version %d: %w",
			rec.CardID, expectedVersion, storage.ErrVersionConflict)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO card_states (
			user_id, card_id, phase, stability, difficulty, last_review,
			next_review, short_stability_minutes, learning_review_count,
			graduated_at, critical_before, high_risk_before, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, rec.UserID, rec.CardID, rec.Phase, rec.Stability, rec.Difficulty,
		nullTime(rec.LastReview), rec.NextReview, nullFloat(rec.ShortStabilityMinutes),
		rec.LearningReviewCount, nullTime(rec.GraduatedAt), nullTime(rec.CriticalBefore),
		nullTime(rec.HighRiskBefore), now)
	if err != nil {
		// A concurrent insert for the same card raced us.
		return fmt.Errorf("PutCardState: card %s: %w", rec.CardID, storage.ErrVersionConflict)
	}
	return nil
}

// AppendReviewEvent appends one audit row.
func (t *sqliteTx) AppendReviewEvent(ctx context.Context, rec *storage.ReviewEventRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO review_events (
			id, user_id, card_id, rating, reviewed_at, review_state,
			scheduled_days, elapsed_days, stability_before, stability_after,
			difficulty_before, difficulty_after, retrievability, duration_millis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.CardID, rec.Rating, rec.ReviewedAt, rec.ReviewState,
		rec.ScheduledDays, rec.ElapsedDays, rec.StabilityBefore, rec.StabilityAfter,
		rec.DifficultyBefore, rec.DifficultyAfter, rec.Retrievability, rec.DurationMillis)
	if err != nil {
		return fmt.Errorf("AppendReviewEvent: %w", err)
	}
	return nil
}

// GetDayState loads the short-loop counters for a calendar day.
func (t *sqliteTx) GetDayState(ctx context.Context, userID, cardID, day string) (*storage.DayStateRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_id, card_id, day, iteration, reviews_today,
			consecutive_successes, consecutive_failures, updated_at
		FROM day_states WHERE user_id = ? AND card_id = ? AND day = ?
	`, userID, cardID, day)

	var rec storage.DayStateRecord
	err := row.Scan(&rec.UserID, &rec.CardID, &rec.Day, &rec.Iteration,
		&rec.ReviewsToday, &rec.ConsecutiveSuccesses, &rec.ConsecutiveFailures, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetDayState: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetDayState: %w", err)
	}
	return &rec, nil
}

// UpsertDayState inserts or replaces the day counters.
func (t *sqliteTx) UpsertDayState(ctx context.Context, rec *storage.DayStateRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO day_states (
			user_id, card_id, day, iteration, reviews_today,
			consecutive_successes, consecutive_failures, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, card_id, day) DO UPDATE SET
			iteration = excluded.iteration,
			reviews_today = excluded.reviews_today,
			consecutive_successes = excluded.consecutive_successes,
			consecutive_failures = excluded.consecutive_failures,
			updated_at = excluded.updated_at
	`, rec.UserID, rec.CardID, rec.Day, rec.Iteration, rec.ReviewsToday,
		rec.ConsecutiveSuccesses, rec.ConsecutiveFailures, time.Now())
	if err != nil {
		return fmt.Errorf("UpsertDayState: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanCardState.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCardState reads one card_states row.
func scanCardState(row scanner) (*storage.CardStateRecord, error) {
	var rec storage.CardStateRecord
	var lastReview, graduatedAt, criticalBefore, highRiskBefore sql.NullTime
	var shortStability sql.NullFloat64
	err := row.Scan(&rec.UserID, &rec.CardID, &rec.Phase, &rec.Stability, &rec.Difficulty,
		&lastReview, &rec.NextReview, &shortStability, &rec.LearningReviewCount,
		&graduatedAt, &criticalBefore, &highRiskBefore, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.LastReview = timePtr(lastReview)
	rec.GraduatedAt = timePtr(graduatedAt)
	rec.CriticalBefore = timePtr(criticalBefore)
	rec.HighRiskBefore = timePtr(highRiskBefore)
	if shortStability.Valid {
		rec.ShortStabilityMinutes = &shortStability.Float64
	}
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
