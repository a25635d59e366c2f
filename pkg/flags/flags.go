// Package flags defines the feature-flag lookup contract the
// scheduling core depends on, plus a static in-process provider for
// tests, examples and single-tenant deployments.
package flags

import (
	"context"
	"sync"
)

// Provider looks up whether a feature flag is enabled for a user.
//
// Implementations are expected to be cheap; the scheduler consults
// flags on every review.
type Provider interface {
	// IsEnabledForUser reports whether flagKey is enabled for userID.
	IsEnabledForUser(ctx context.Context, flagKey, userID string) (bool, error)
}

// Static is an in-memory flag provider. Flags can be enabled globally
// or per user. Safe for concurrent use.
type Static struct {
	mu      sync.RWMutex
	global  map[string]bool
	perUser map[string]map[string]bool
}

// NewStatic creates an empty static provider; all flags start disabled.
func NewStatic() *Static {
	return &Static{
		global:  make(map[string]bool),
		perUser: make(map[string]map[string]bool),
	}
}

// Enable turns a flag on for all users.
func (s *Static) Enable(flagKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global[flagKey] = true
}

// Disable turns a flag off for all users, including per-user grants.
func (s *Static) Disable(flagKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.global, flagKey)
	for _, userFlags := range s.perUser {
		delete(userFlags, flagKey)
	}
}

// EnableForUser turns a flag on for a single user.
func (s *Static) EnableForUser(flagKey, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perUser[userID] == nil {
		s.perUser[userID] = make(map[string]bool)
	}
	s.perUser[userID][flagKey] = true
}

// IsEnabledForUser implements Provider.
func (s *Static) IsEnabledForUser(_ context.Context, flagKey, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global[flagKey] {
		return true, nil
	}
	return s.perUser[userID][flagKey], nil
}
