// Package mysql provides the MySQL persistence backend.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flashdeck/recall-go/pkg/storage"
)

// Client implements storage.Store using MySQL as the backend.
type Client struct {
	db *sql.DB
}

// Config contains MySQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// NewClient creates a new MySQL store.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
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
			user_id VARCHAR(64) NOT NULL,
			card_id VARCHAR(64) NOT NULL,
			phase VARCHAR(16) NOT NULL,
			stability DOUBLE NOT NULL DEFAULT 0,
			difficulty DOUBLE NOT NULL DEFAULT 0,
			last_review DATETIME(3),
			next_review DATETIME(3) NOT NULL,
			short_stability_minutes DOUBLE,
			learning_review_count INT NOT NULL DEFAULT 0,
			graduated_at DATETIME(3),
			critical_before DATETIME(3),
			high_risk_before DATETIME(3),
			version BIGINT NOT NULL DEFAULT 1,
			updated_at DATETIME(3) NOT NULL,
			PRIMARY KEY (user_id, card_id),
			INDEX idx_card_states_due (user_id, next_review),
			INDEX idx_card_states_risk (user_id, critical_before)
		)`,
		`CREATE TABLE IF NOT EXISTS review_events (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			card_id VARCHAR(64) NOT NULL,
			rating INT NOT NULL,
			reviewed_at DATETIME(3) NOT NULL,
			review_state VARCHAR(16) NOT NULL,
			scheduled_days DOUBLE NOT NULL DEFAULT 0,
			elapsed_days DOUBLE NOT NULL DEFAULT 0,
			stability_before DOUBLE NOT NULL DEFAULT 0,
			stability_after DOUBLE NOT NULL DEFAULT 0,
			difficulty_before DOUBLE NOT NULL DEFAULT 0,
			difficulty_after DOUBLE NOT NULL DEFAULT 0,
			retrievability DOUBLE NOT NULL DEFAULT 0,
			duration_millis BIGINT NOT NULL DEFAULT 0,
			INDEX idx_review_events_card (user_id, card_id, reviewed_at)
		)`,
		`CREATE TABLE IF NOT EXISTS day_states (
			user_id VARCHAR(64) NOT NULL,
			card_id VARCHAR(64) NOT NULL,
			day VARCHAR(10) NOT NULL,
			iteration INT NOT NULL DEFAULT 0,
			reviews_today INT NOT NULL DEFAULT 0,
			consecutive_successes INT NOT NULL DEFAULT 0,
			consecutive_failures INT NOT NULL DEFAULT 0,
			updated_at DATETIME(3) NOT NULL,
			PRIMARY KEY (user_id, card_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS user_params (
			user_id VARCHAR(64) PRIMARY KEY,
			weights TEXT NOT NULL,
			short_term_params TEXT NOT NULL,
			target_retention DOUBLE NOT NULL,
			updated_at DATETIME(3) NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a single MySQL transaction.
func (c *Client) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithinTx: %w", err)
	}
	if err := fn(&mysqlTx{tx: tx}); err != nil {
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
		ON DUPLICATE KEY UPDATE
			weights = VALUES(weights),
			short_term_params = VALUES(short_term_params),
			target_retention = VALUES(target_retention),
			updated_at = VALUES(updated_at)
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

// mysqlTx implements storage.Tx over a *sql.Tx.
type mysqlTx struct {
	tx *sql.Tx
}

// GetCardState loads a card's state within the transaction.
func (t *mysqlTx) GetCardState(ctx context.Context, userID, cardID string) (*storage.CardStateRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_id, card_id, phase, stability, difficulty, last_review,
			next_review, short_stability_minutes, learning_review_count,
			graduated_at, critical_before, high_risk_before, version, updated_at
		FROM card_states WHERE user_id = ? AND card_id = ?
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
func (t *mysqlTx) PutCardState(ctx context.Context, rec *storage.CardStateRecord, expectedVersion int64) error {
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
func (t *mysqlTx) AppendReviewEvent(ctx context.Context, rec *storage.ReviewEventRecord) error {
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
func (t *mysqlTx) GetDayState(ctx context.Context, userID, cardID, day string) (*storage.DayStateRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_id, card_id, day, iteration, reviews_today,
			consecutive_successes, consecutive_failures, updated_at
		FROM day_states WHERE user_id = ? AND card_id = ? AND day = ?
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
func (t *mysqlTx) UpsertDayState(ctx context.Context, rec *storage.DayStateRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO day_states (
			user_id, card_id, day, iteration, reviews_today,
			consecutive_successes, consecutive_failures, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			iteration = VALUES(iteration),
			reviews_today = VALUES(reviews_today),
			consecutive_successes = VALUES(consecutive_successes),
			consecutive_failures = VALUES(consecutive_failures),
			updated_at = VALUES(updated_at)
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
