package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T, n int) (*store.MemoryStore, fixture) {
	t.Helper()
	s := store.NewMemoryStore()
	f := fixture{projectID: uuid.New(), datasetID: uuid.New(), modelConfigID: uuid.New()}
	s.PutProject(models.Project{ID: f.projectID, QuestionType: models.QuestionBinary})
	s.PutDataset(models.Dataset{ID: f.datasetID, ProjectID: f.projectID})
	s.PutModelConfig(models.ModelConfig{ID: f.modelConfigID, Provider: "openai", ModelName: "gpt-4o", Concurrency: 3})
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		id := uuid.New()
		s.PutImage(models.Image{ID: id, DatasetID: f.datasetID, Filename: id.String() + ".png",
			ProcessingStatus: models.ImageStatusReady, CreatedAt: base.Add(time.Duration(i) * time.Second)})
		f.imageIDs = append(f.imageIDs, id)
	}
	return s, f
}

func TestMemoryStore_ClaimIsSingleOwner(t *testing.T) {
	s, f := seedMemory(t, 2)
	ctx := context.Background()
	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimEvaluation(ctx, e.ID, store.EvaluationClaim{SelectedImageIDs: f.imageIDs}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_RecordResultCounters(t *testing.T) {
	s, f := seedMemory(t, 4)
	ctx := context.Background()
	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))
	claimAll(t, s, e, f.imageIDs)

	_, err := s.RecordResult(ctx, result(e.ID, f.imageIDs[0], boolPtr(true), 0.25))
	require.NoError(t, err)
	_, err = s.RecordResult(ctx, result(e.ID, f.imageIDs[1], boolPtr(false), 0.25))
	require.NoError(t, err)
	p, err := s.RecordResult(ctx, result(e.ID, f.imageIDs[2], nil, 0.25))
	require.NoError(t, err)

	assert.Equal(t, 3, p.ProcessedImages)
	assert.Equal(t, 2, p.ScoredImages)
	assert.Equal(t, 1, p.CorrectImages)
	assert.InDelta(t, 75.0, p.Progress, 1e-9)
	require.NotNil(t, p.Accuracy)
	assert.InDelta(t, 50.0, *p.Accuracy, 1e-9)

	// Re-processing image 1 as correct replaces, never adds.
	p, err = s.RecordResult(ctx, result(e.ID, f.imageIDs[1], boolPtr(true), 0.25))
	require.NoError(t, err)
	assert.Equal(t, 3, p.ProcessedImages)
	assert.Equal(t, 2, p.CorrectImages)
	assert.InDelta(t, 1.0, p.ActualCost, 1e-9)

	err = s.UpdateEvaluationStatus(ctx, e.ID, models.EvaluationStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.RecordResult(ctx, result(e.ID, f.imageIDs[3], boolPtr(true), 0))
	require.NoError(t, err)
	require.NoError(t, s.UpdateEvaluationStatus(ctx, e.ID, models.EvaluationStatusCompleted))
}

func TestMemoryStore_ListResultsPagination(t *testing.T) {
	s, f := seedMemory(t, 5)
	ctx := context.Background()
	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))
	claimAll(t, s, e, f.imageIDs)

	for i, id := range f.imageIDs {
		_, err := s.RecordResult(ctx, result(e.ID, id, boolPtr(i < 3), 0))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	page, total, err := s.ListResults(ctx, store.ResultFilter{EvaluationID: e.ID, Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, f.imageIDs[1], page[0].ImageID)
	assert.Equal(t, f.imageIDs[2], page[1].ImageID)

	correct, total, err := s.ListResults(ctx, store.ResultFilter{EvaluationID: e.ID, Filter: models.FilterCorrect})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, correct, 3)

	empty, total, err := s.ListResults(ctx, store.ResultFilter{EvaluationID: e.ID, Skip: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, empty)
}

func TestMemoryStore_DeleteDatasetCascades(t *testing.T) {
	s, f := seedMemory(t, 1)
	ctx := context.Background()
	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))

	s.DeleteDataset(f.datasetID)

	_, err := s.GetEvaluation(ctx, e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	images, err := s.ListImages(ctx, f.datasetID)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s, f := seedMemory(t, 1)
	ctx := context.Background()
	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))

	got, err := s.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	got.PromptChain[0].PromptText = "mutated"
	got.Status = models.EvaluationStatusFailed

	again, err := s.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "{{question}}", again.PromptChain[0].PromptText)
	assert.Equal(t, models.EvaluationStatusPending, again.Status)
}
