package selection_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/visionbench/internal/selection"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

func newIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func assertSubset(t *testing.T, all, got []uuid.UUID) {
	t.Helper()
	set := make(map[uuid.UUID]bool, len(all))
	for _, id := range all {
		set[id] = true
	}
	seen := make(map[uuid.UUID]bool, len(got))
	for _, id := range got {
		assert.True(t, set[id], "id %s not in dataset", id)
		assert.False(t, seen[id], "id %s selected twice", id)
		seen[id] = true
	}
}

func TestResolve_All(t *testing.T) {
	ids := newIDs(5)
	res, err := selection.Resolve(ids, models.SelectAll(), 1)
	require.NoError(t, err)
	assert.Equal(t, ids, res.IDs)
}

func TestResolve_RandomCount(t *testing.T) {
	ids := newIDs(20)

	res, err := selection.Resolve(ids, models.SelectRandomCount(7), 42)
	require.NoError(t, err)
	assert.Len(t, res.IDs, 7)
	assertSubset(t, ids, res.IDs)
}

func TestResolve_RandomCountClampsToDataset(t *testing.T) {
	ids := newIDs(4)
	res, err := selection.Resolve(ids, models.SelectRandomCount(10), 42)
	require.NoError(t, err)
	assert.Len(t, res.IDs, 4)
	assert.ElementsMatch(t, ids, res.IDs)
}

func TestResolve_DeterministicForSeed(t *testing.T) {
	ids := newIDs(50)
	a, err := selection.Resolve(ids, models.SelectRandomCount(10), 7)
	require.NoError(t, err)
	b, err := selection.Resolve(ids, models.SelectRandomCount(10), 7)
	require.NoError(t, err)
	assert.Equal(t, a.IDs, b.IDs)

	c, err := selection.Resolve(ids, models.SelectRandomCount(10), 8)
	require.NoError(t, err)
	assert.NotEqual(t, a.IDs, c.IDs)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	ids := newIDs(10)
	orig := append([]uuid.UUID(nil), ids...)
	_, err := selection.Resolve(ids, models.SelectRandomCount(5), 3)
	require.NoError(t, err)
	assert.Equal(t, orig, ids)
}

func TestResolve_RandomPercent(t *testing.T) {
	tests := []struct {
		n       int
		percent float64
		want    int
	}{
		{10, 50, 5},
		{10, 15, 2},
		{3, 1, 1},
		{7, 100, 7},
		{1, 0.1, 1},
	}
	for _, tt := range tests {
		ids := newIDs(tt.n)
		res, err := selection.Resolve(ids, models.SelectRandomPercent(tt.percent), 99)
		require.NoError(t, err)
		assert.Len(t, res.IDs, tt.want, "n=%d p=%v", tt.n, tt.percent)
		assertSubset(t, ids, res.IDs)
	}
}

func TestResolve_ManualIntersectsAndDedupes(t *testing.T) {
	ids := newIDs(5)
	missing := uuid.New()
	cfg := models.SelectManual(ids[3], missing, ids[1], ids[3])

	res, err := selection.Resolve(ids, cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[3], ids[1]}, res.IDs)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "1 selected image")
}

func TestResolve_Empty(t *testing.T) {
	_, err := selection.Resolve(nil, models.SelectAll(), 0)
	assert.ErrorIs(t, err, selection.ErrEmptySelection)

	_, err = selection.Resolve(nil, models.SelectRandomPercent(50), 0)
	assert.ErrorIs(t, err, selection.ErrEmptySelection)

	res, err := selection.Resolve(newIDs(3), models.SelectManual(uuid.New()), 0)
	assert.ErrorIs(t, err, selection.ErrEmptySelection)
	assert.Equal(t, 1, res.Dropped)
}

func TestResolve_InvalidConfig(t *testing.T) {
	_, err := selection.Resolve(newIDs(3), models.SelectionConfig{Mode: "sometimes"}, 0)
	assert.ErrorIs(t, err, models.ErrInvalidSelection)
}

func TestCount(t *testing.T) {
	assert.Equal(t, 10, selection.Count(10, models.SelectAll()))
	assert.Equal(t, 4, selection.Count(10, models.SelectRandomCount(4)))
	assert.Equal(t, 10, selection.Count(10, models.SelectRandomCount(40)))
	assert.Equal(t, 3, selection.Count(10, models.SelectRandomPercent(25)))
	assert.Equal(t, 2, selection.Count(10, models.SelectManual(uuid.New(), uuid.New())))
}
