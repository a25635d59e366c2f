package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/policy"
	"github.com/flashdeck/recall-go/pkg/shortterm"
)

// Config contains the complete configuration for a Scheduler.
//
// Weight vectors here are the per-deployment defaults; users with a
// personal optimizer fit override them through the params store, read
// fresh at the start of each review.
type Config struct {
	// Weights is the default long-term weight vector (21 entries).
	Weights []float64 `json:"weights"`

	// ShortTermParams is the default short-term parameter vector.
	ShortTermParams []float64 `json:"short_term_params"`

	// TargetRetention is the default target retention in (0, 1).
	TargetRetention float64 `json:"target_retention"`

	// MinIntervalDays and MaxIntervalDays bound long-term intervals.
	MinIntervalDays float64 `json:"min_interval_days"`
	MaxIntervalDays float64 `json:"max_interval_days"`

	// MinIntervalMinutes and MaxIntervalMinutes bound learning
	// intervals.
	MinIntervalMinutes float64 `json:"min_interval_minutes"`
	MaxIntervalMinutes float64 `json:"max_interval_minutes"`

	// GraduateAfterDays and MaxLearningReviews are the graduation
	// caps: a learning card graduates when its predicted interval
	// exceeds the day cap or its review count exceeds the attempt cap.
	GraduateAfterDays  float64 `json:"graduate_after_days"`
	MaxLearningReviews int     `json:"max_learning_reviews"`

	// RelearningEnabled re-enters lapsed review cards into the
	// minute-scale loop instead of keeping them on the day schedule.
	RelearningEnabled bool `json:"relearning_enabled"`

	// ShortLoopFlagKey is the feature flag gating the same-day short
	// loop, looked up per user on every learning-phase review.
	ShortLoopFlagKey string `json:"short_loop_flag_key"`

	// ShortLoop, Penalty and Retention tune the behavioral policies.
	ShortLoop policy.ShortLoopConfig `json:"short_loop"`
	Penalty   policy.PenaltyConfig   `json:"penalty"`
	Retention policy.RetentionConfig `json:"retention"`

	// SnowflakeNode is the ID-generator node number, unique per
	// process when running multiple schedulers against one store.
	SnowflakeNode int64 `json:"snowflake_node"`
}

// DefaultConfig returns a configuration with the stock parameter sets
// and standard caps.
func DefaultConfig() *Config {
	return &Config{
		Weights:            fsrs.DefaultWeights().Slice(),
		ShortTermParams:    shortterm.DefaultParams().Slice(),
		TargetRetention:    0.9,
		MinIntervalDays:    1,
		MaxIntervalDays:    36500,
		MinIntervalMinutes: 1,
		MaxIntervalMinutes: 1440,
		GraduateAfterDays:  1,
		MaxLearningReviews: 10,
		RelearningEnabled:  true,
		ShortLoopFlagKey:   "short_loop",
		SnowflakeNode:      1,
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for a .env file (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Overlays RECALL_* variables on top of DefaultConfig
//
// Supported environment variables:
//   - RECALL_TARGET_RETENTION
//   - RECALL_MIN_INTERVAL_DAYS, RECALL_MAX_INTERVAL_DAYS
//   - RECALL_MIN_INTERVAL_MINUTES, RECALL_MAX_INTERVAL_MINUTES
//   - RECALL_GRADUATE_AFTER_DAYS, RECALL_MAX_LEARNING_REVIEWS
//   - RECALL_RELEARNING_ENABLED ("true"/"false")
//   - RECALL_SHORT_LOOP_FLAG_KEY
//   - RECALL_MIN_GAP_SECONDS, RECALL_MAX_GAP_SECONDS
//   - RECALL_FATIGUE_THRESHOLD
//   - RECALL_MIN_REVEAL_SECONDS, RECALL_FUZZ_HOURS_MIN, RECALL_FUZZ_HOURS_MAX
//   - RECALL_SNOWFLAKE_NODE
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	cfg.TargetRetention = getEnvFloat("RECALL_TARGET_RETENTION", cfg.TargetRetention)
	cfg.MinIntervalDays = getEnvFloat("RECALL_MIN_INTERVAL_DAYS", cfg.MinIntervalDays)
	cfg.MaxIntervalDays = getEnvFloat("RECALL_MAX_INTERVAL_DAYS", cfg.MaxIntervalDays)
	cfg.MinIntervalMinutes = getEnvFloat("RECALL_MIN_INTERVAL_MINUTES", cfg.MinIntervalMinutes)
	cfg.MaxIntervalMinutes = getEnvFloat("RECALL_MAX_INTERVAL_MINUTES", cfg.MaxIntervalMinutes)
	cfg.GraduateAfterDays = getEnvFloat("RECALL_GRADUATE_AFTER_DAYS", cfg.GraduateAfterDays)
	cfg.MaxLearningReviews = getEnvInt("RECALL_MAX_LEARNING_REVIEWS", cfg.MaxLearningReviews)
	cfg.RelearningEnabled = getEnvOrDefault("RECALL_RELEARNING_ENABLED", "true") == "true"
	cfg.ShortLoopFlagKey = getEnvOrDefault("RECALL_SHORT_LOOP_FLAG_KEY", cfg.ShortLoopFlagKey)
	cfg.ShortLoop.MinGapSeconds = getEnvInt("RECALL_MIN_GAP_SECONDS", cfg.ShortLoop.MinGapSeconds)
	cfg.ShortLoop.MaxGapSeconds = getEnvInt("RECALL_MAX_GAP_SECONDS", cfg.ShortLoop.MaxGapSeconds)
	cfg.ShortLoop.FatigueThreshold = getEnvFloat("RECALL_FATIGUE_THRESHOLD", cfg.ShortLoop.FatigueThreshold)
	cfg.Penalty.MinRevealSeconds = getEnvInt("RECALL_MIN_REVEAL_SECONDS", cfg.Penalty.MinRevealSeconds)
	cfg.Penalty.FuzzHoursMin = getEnvFloat("RECALL_FUZZ_HOURS_MIN", cfg.Penalty.FuzzHoursMin)
	cfg.Penalty.FuzzHoursMax = getEnvFloat("RECALL_FUZZ_HOURS_MAX", cfg.Penalty.FuzzHoursMax)
	cfg.SnowflakeNode = int64(getEnvInt("RECALL_SNOWFLAKE_NODE", int(cfg.SnowflakeNode)))

	return cfg, nil
}

// Validate validates the configuration.
//
// A weight vector of the wrong length, non-finite parameters or an
// out-of-range target retention fail fast here: these are
// configuration errors, not transient conditions.
func (c *Config) Validate() error {
	if _, err := fsrs.FromSlice(c.Weights); err != nil {
		return NewSchedulerError("Validate", err)
	}
	if _, err := shortterm.FromSlice(c.ShortTermParams); err != nil {
		return NewSchedulerError("Validate", err)
	}
	if c.TargetRetention <= 0 || c.TargetRetention >= 1 {
		return NewSchedulerError("Validate",
			fmt.Errorf("target retention %v out of (0,1): %w", c.TargetRetention, ErrInvalidConfig))
	}
	if c.ShortLoopFlagKey == "" {
		return NewSchedulerError("Validate",
			fmt.Errorf("short loop flag key must be set: %w", ErrInvalidConfig))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search checks the current directory, then walks up to 5 levels,
// returning the first match.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
