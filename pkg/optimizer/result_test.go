package optimizer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/optimizer"
	"github.com/flashdeck/recall-go/pkg/shortterm"
	"github.com/flashdeck/recall-go/pkg/storage"
)

func validFit() *optimizer.FitResult {
	return &optimizer.FitResult{
		UserID:          "u1",
		Weights:         fsrs.DefaultWeights().Slice(),
		ShortTermParams: shortterm.DefaultParams().Slice(),
		TargetRetention: 0.88,
		SampleCount:     450,
		LogLoss:         0.31,
		FittedAt:        time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestValidateAcceptsCompleteFit(t *testing.T) {
	assert.NoError(t, validFit().Validate())
}

func TestValidateRejectsPartialFit(t *testing.T) {
	fit := validFit()
	fit.Weights = fit.Weights[:5]
	assert.ErrorIs(t, fit.Validate(), optimizer.ErrInvalidResult)

	fit = validFit()
	fit.ShortTermParams = nil
	assert.ErrorIs(t, fit.Validate(), optimizer.ErrInvalidResult)

	fit = validFit()
	fit.UserID = ""
	assert.ErrorIs(t, fit.Validate(), optimizer.ErrInvalidResult)
}

func TestValidateRejectsThinEvidence(t *testing.T) {
	fit := validFit()
	fit.SampleCount = optimizer.MinSampleCount - 1
	assert.ErrorIs(t, fit.Validate(), optimizer.ErrInvalidResult)
}

func TestValidateAllowsZeroTarget(t *testing.T) {
	fit := validFit()
	fit.TargetRetention = 0
	assert.NoError(t, fit.Validate(), "zero target means keep the current one")

	fit.TargetRetention = 1.2
	assert.ErrorIs(t, fit.Validate(), optimizer.ErrInvalidResult)
}

func TestParseResult(t *testing.T) {
	data, err := json.Marshal(validFit())
	require.NoError(t, err)

	result, err := optimizer.ParseResult(data)
	require.NoError(t, err)
	assert.Equal(t, "u1", result.UserID)
	assert.Equal(t, 450, result.SampleCount)

	_, err = optimizer.ParseResult([]byte("{not json"))
	assert.ErrorIs(t, err, optimizer.ErrInvalidResult)
}

// paramsStore is a minimal storage.Store double carrying only the
// user-params table.
type paramsStore struct {
	params map[string]*storage.UserParamsRecord
}

func newParamsStore() *paramsStore {
	return &paramsStore{params: make(map[string]*storage.UserParamsRecord)}
}

func (s *paramsStore) WithinTx(context.Context, func(tx storage.Tx) error) error { return nil }

func (s *paramsStore) GetUserParams(_ context.Context, userID string) (*storage.UserParamsRecord, error) {
	rec, ok := s.params[userID]
	if !ok {
		return nil, fmt.Errorf("GetUserParams: %w", storage.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *paramsStore) PutUserParams(_ context.Context, rec *storage.UserParamsRecord) error {
	cp := *rec
	s.params[rec.UserID] = &cp
	return nil
}

func (s *paramsStore) ListCardStates(context.Context, string, time.Time, int) ([]*storage.CardStateRecord, error) {
	return nil, nil
}

func (s *paramsStore) Close() error { return nil }

func TestCommitResult(t *testing.T) {
	store := newParamsStore()
	loader := optimizer.NewLoader(store, nil)

	require.NoError(t, loader.CommitResult(context.Background(), validFit()))

	rec, err := store.GetUserParams(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, rec.Weights, fsrs.WeightCount)
	assert.Len(t, rec.ShortTermParams, shortterm.ParamCount)
	assert.InDelta(t, 0.88, rec.TargetRetention, 1e-9)
}

func TestCommitResultRejectsInvalid(t *testing.T) {
	store := newParamsStore()
	loader := optimizer.NewLoader(store, nil)

	fit := validFit()
	fit.SampleCount = 3
	err := loader.CommitResult(context.Background(), fit)
	assert.ErrorIs(t, err, optimizer.ErrInvalidResult)
	assert.Empty(t, store.params, "rejected fits write nothing")
}

func TestCommitResultKeepsLastGoodTarget(t *testing.T) {
	store := newParamsStore()
	require.NoError(t, store.PutUserParams(context.Background(), &storage.UserParamsRecord{
		UserID:          "u1",
		TargetRetention: 0.92,
	}))

	loader := optimizer.NewLoader(store, nil)
	fit := validFit()
	fit.TargetRetention = 0
	require.NoError(t, loader.CommitResult(context.Background(), fit))

	rec, err := store.GetUserParams(context.Background(), "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.92, rec.TargetRetention, 1e-9, "zero target keeps the stored one")
}

func TestCommitFile(t *testing.T) {
	store := newParamsStore()
	loader := optimizer.NewLoader(store, nil)

	data, err := json.Marshal(validFit())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fit.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, loader.CommitFile(context.Background(), path))
	_, err = store.GetUserParams(context.Background(), "u1")
	assert.NoError(t, err)

	err = loader.CommitFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
