// Package content detects how much a card's text changed between
// edits, so the scheduler can decide whether the card's memory state
// still describes the material the learner will actually see.
package content

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

const (
	// defaultSignificantPercent marks an edit as significant.
	defaultSignificantPercent = 30.0

	// defaultResetPercent recommends discarding memory state.
	defaultResetPercent = 50.0
)

// ChangeReport describes the magnitude of a card edit.
type ChangeReport struct {
	// ChangePercent is the normalized edit distance in [0, 100].
	ChangePercent float64 `json:"change_percent"`

	// IsSignificant is true when the change exceeds the significance
	// threshold (default 30%).
	IsSignificant bool `json:"is_significant"`

	// ShouldReset is true when the change is large enough (default
	// >50%) that the card's memory state should be discarded.
	ShouldReset bool `json:"should_reset"`
}

// Detector computes normalized edit-distance change reports between
// two versions of a card's text. The zero thresholds are replaced by
// defaults at construction; Detect is pure and safe for concurrent use.
type Detector struct {
	significantPercent float64
	resetPercent       float64
	params             *levenshtein.Params
}

// NewDetector creates a detector with the default 30%/50% thresholds.
func NewDetector() *Detector {
	return NewDetectorWithThresholds(defaultSignificantPercent, defaultResetPercent)
}

// NewDetectorWithThresholds creates a detector with custom thresholds.
// Non-positive thresholds fall back to the defaults.
func NewDetectorWithThresholds(significantPercent, resetPercent float64) *Detector {
	if significantPercent <= 0 {
		significantPercent = defaultSignificantPercent
	}
	if resetPercent <= 0 {
		resetPercent = defaultResetPercent
	}
	return &Detector{
		significantPercent: significantPercent,
		resetPercent:       resetPercent,
		params:             levenshtein.NewParams(),
	}
}

// Detect returns the change magnitude between the old and new card
// text. Equal strings yield a zero report; a near-total rewrite
// approaches 100%.
func (d *Detector) Detect(oldText, newText string) ChangeReport {
	oldText = strings.TrimSpace(oldText)
	newText = strings.TrimSpace(newText)
	if oldText == newText {
		return ChangeReport{}
	}

	longest := utf8.RuneCountInString(oldText)
	if n := utf8.RuneCountInString(newText); n > longest {
		longest = n
	}
	if longest == 0 {
		return ChangeReport{}
	}

	distance := levenshtein.Distance(oldText, newText, d.params)
	percent := float64(distance) / float64(longest) * 100
	if percent > 100 {
		percent = 100
	}

	return ChangeReport{
		ChangePercent: percent,
		IsSignificant: percent > d.significantPercent,
		ShouldReset:   percent > d.resetPercent,
	}
}
