package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinix/sourceorder/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := Run{
		RunID:       "0d7f4c1e-2d6b-4c6a-9a57-6f0c8b1d2e3f",
		Dataset:     "clinic.xlsx",
		Rows:        1500,
		Classes:     4,
		Accuracy:    0.93,
		Loss:        0.21,
		ArtifactDir: "artifacts",
		Quantized:   true,
		CreatedAt:   created,
	}
	require.NoError(t, s.Record(ctx, run))

	got, err := s.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.Dataset, got.Dataset)
	assert.Equal(t, run.Rows, got.Rows)
	assert.Equal(t, run.Classes, got.Classes)
	assert.InDelta(t, run.Accuracy, got.Accuracy, 1e-12)
	assert.True(t, got.Quantized)
	assert.True(t, created.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)

	// run ids are unique
	assert.Error(t, s.Record(ctx, run))
}

func TestGetUnknownRun(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, Run{
			RunID:     id,
			Dataset:   "d.csv",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RunID)
	assert.Equal(t, "a", all[2].RunID)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestRecordRequiresRunID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Record(context.Background(), Run{}))
}
