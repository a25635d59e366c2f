// Package postgres provides the PostgreSQL persistence backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/flashdeck/recall-go/pkg/storage"
)

// Client implements storage.Store using PostgreSQL as the backend.
type Client struct {
	db *sql.DB
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewClient creates a new PostgreSQL store.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
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
			stability DOUBLE PRECISION NOT NULL DEFAULT 0,
			difficulty DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_review TIMESTAMPTZ,
			next_review TIMESTAMPTZ NOT NULL,
			short_stability_minutes DOUBLE PRECISION,
			learning_review_count INTEGER NOT NULL DEFAULT 0,
			graduated_at TIMESTAMPTZ,
			critical_before TIMESTAMPTZ,
			high_risk_before TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, card_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_states_due
			ON card_states(user_id, next_review)`,
		`CREATE INDEX IF NOT EXISTS idx_card_states_risk
			ON card_states(user_id, critical_before)`,
		`CREATE TABLE IF NOT EXISTS review_events (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			reviewed_at TIMESTAMPTZ NOT NULL,
			review_state TEXT NOT NULL,
			scheduled_days DOUBLE PRECISION NOT NULL DEFAULT 0,
			elapsed_days DOUBLE PRECISION NOT NULL DEFAULT 0,
			stability_before DOUBLE PRECISION NOT NULL DEFAULT 0,
			stability_after DOUBLE PRECISION NOT NULL DEFAULT 0,
			difficulty_before DOUBLE PRECISION NOT NULL DEFAULT 0,
			difficulty_after DOUBLE PRECISION NOT NULL DEFAULT 0,
			retrievability DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_millis BIGINT NOT NULL DEFAULT 0
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
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, card_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS user_params (
			user_id TEXT PRIMARY KEY,
			weights TEXT NOT NULL,
			short_term_params TEXT NOT NULL,
			target_retention DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a single PostgreSQL transaction.
func (c *Client) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithinTx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
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
		FROM user_params WHERE user_id = $1
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			weights = EXCLUDED.weights,
			short_term_params = EXCLUDED.short_term_params,
			target_retention = EXCLUDED.target_retention,
			updated_at = EXCLUDED.updated_at
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
		WHERE user_id = $1 AND next_review <= $2
		ORDER BY next_review`
	args := []interface{}{userID, dueBefore}
	if limit > 0 {
		query += ` LIMIT $3`
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

// pgTx implements storage.Tx over a *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

// GetCardState loads a card's state within the transaction.
func (t *pgTx) GetCardState(ctx context.Context, userID, cardID string) (*storage.CardStateRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_id, card_id, phase, stability, difficulty, last_review,
			next_review, short_stability_minutes, learning_review_count,
			graduated_at, critical_before, high_risk_before, version, updated_at
		FROM card_states WHERE user_id = $1 AND card_id = $2
		FOR UPDATE
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
func (t *pgTx) PutCardState(ctx context.Context, rec *storage.CardStateRecord, expectedVersion int64) error {
	now := time.Now()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE card_states SET
			phase = $1, stability = $2, difficulty = $3, last_review = $4,
			next_review = $5, short_stability_minutes = $6, learning_review_count = $7,
			graduated_at = $8, critical_before = $9, high_risk_before = $10,
			version = version + 1, updated_at = $11
		WHERE user_id = $12 AND card_id = $13 AND version = $14
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13)
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
func (t *pgTx) AppendReviewEvent(ctx context.Context, rec *storage.ReviewEventRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO review_events (
			id, user_id, card_id, rating, reviewed_at, review_state,
			scheduled_days, elapsed_days, stability_before, stability_after,
			difficulty_before, difficulty_after, retrievability, duration_millis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rec.ID, rec.UserID, rec.CardID, rec.Rating, rec.ReviewedAt, rec.ReviewState,
		rec.ScheduledDays, rec.ElapsedDays, rec.StabilityBefore, rec.StabilityAfter,
		rec.DifficultyBefore, rec.DifficultyAfter, rec.Retrievability, rec.DurationMillis)
	if err != nil {
		return fmt.Errorf("AppendReviewEvent: %w", err)
	}
	return nil
}

// GetDayState loads the short-loop counters for a calendar day.
func (t *pgTx) GetDayState(ctx context.Context, userID, cardID, day string) (*storage.DayStateRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_id, card_id, day, iteration, reviews_today,
			consecutive_successes, consecutive_failures, updated_at
		FROM day_states WHERE user_id = $1 AND card_id = $2 AND day = $3
		FOR UPDATE
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
func (t *pgTx) UpsertDayState(ctx context.Context, rec *storage.DayStateRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO day_states (
			user_id, card_id, day, iteration, reviews_today,
			consecutive_successes, consecutive_failures, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, card_id, day) DO UPDATE SET
			iteration = EXCLUDED.iteration,
			reviews_today = EXCLUDED.reviews_today,
			consecutive_successes = EXCLUDED.consecutive_successes,
			consecutive_failures = EXCLUDED.consecutive_failures,
			updated_at = EXCLUDED.updated_at
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
