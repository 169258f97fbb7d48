package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("visionbench_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	version, dirty, err := store.MigrationVersion(connStr, migrationsDir())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

type fixture struct {
	projectID     uuid.UUID
	datasetID     uuid.UUID
	modelConfigID uuid.UUID
	imageIDs      []uuid.UUID
}

// seedCatalog inserts the rows the CRUD layer would own: a binary project, a
// dataset with n images and a model config.
func seedCatalog(t *testing.T, pool *pgxpool.Pool, n int) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{projectID: uuid.New(), datasetID: uuid.New(), modelConfigID: uuid.New()}

	_, err := pool.Exec(ctx,
		`INSERT INTO projects (id, name, question, question_type, options) VALUES ($1, 'cats', 'Is there a cat?', 'binary', '[]')`,
		f.projectID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO datasets (id, project_id, name) VALUES ($1, $2, 'set-a')`, f.datasetID, f.projectID)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		id := uuid.New()
		_, err := pool.Exec(ctx,
			`INSERT INTO images (id, dataset_id, filename, storage_ref, processing_status, width, height, created_at)
			 VALUES ($1, $2, $3, $3, 'ready', 512, 512, $4)`,
			id, f.datasetID, "img-"+id.String()[:8]+".png", base.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		f.imageIDs = append(f.imageIDs, id)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO model_configs (id, name, provider, model_name, temperature, max_tokens, concurrency, pricing_config)
		 VALUES ($1, 'gpt', 'openai', 'gpt-4o', 0, 256, 3,
		   '{"mode":"token_based","input_price_per_1m":2.5,"output_price_per_1m":10,"image_price_mode":"per_tile","image_price_val":0,"discount_percent":0}')`,
		f.modelConfigID)
	require.NoError(t, err)
	return f
}

func newPendingEvaluation(f fixture) *models.Evaluation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Evaluation{
		ID:            uuid.New(),
		DatasetID:     f.datasetID,
		ModelConfigID: f.modelConfigID,
		Name:          "run",
		PromptChain:   []models.PromptStep{{SystemMessage: "You label images.", PromptText: "{{question}}"}},
		Selection:     models.SelectRandomCount(2),
		Status:        models.EvaluationStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func claimAll(t *testing.T, s store.Store, e *models.Evaluation, ids []uuid.UUID) *models.Evaluation {
	t.Helper()
	seed := int64(42)
	claimed, err := s.ClaimEvaluation(context.Background(), e.ID, store.EvaluationClaim{
		SelectedImageIDs: ids,
		Seed:             &seed,
		ModelSnapshot:    &models.ModelConfig{Provider: "openai", ModelName: "gpt-4o", Concurrency: 3},
		EstimatedCost:    0.0123,
	})
	require.NoError(t, err)
	return claimed
}

func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string { return &s }

func result(evalID, imageID uuid.UUID, correct *bool, cost float64) *models.EvaluationResult {
	return &models.EvaluationResult{
		ID:            uuid.New(),
		EvaluationID:  evalID,
		ImageID:       imageID,
		ModelResponse: strPtr("true"),
		ParsedAnswer:  json.RawMessage(`true`),
		GroundTruth:   json.RawMessage(`true`),
		IsCorrect:     correct,
		LatencyMS:     120,
		InputTokens:   300,
		OutputTokens:  2,
		Cost:          cost,
		StepResults:   []models.StepResult{{Step: 1, Output: "true", InputTokens: 300, OutputTokens: 2}},
	}
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "vb_abcd",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "vb_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "vb_abcd")
	require.NoError(t, err)
	assert.NotNil(t, keys[0].LastUsedAt)

	err = s.CreateAPIKey(ctx, key)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID: uuid.New(), Name: "revoke-me", KeyHash: "hash", KeyPrefix: "vb_revk",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

// --- Catalog Tests ---

func TestCatalog_Reads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 3)

	project, err := s.GetProject(ctx, f.projectID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionBinary, project.QuestionType)

	dataset, err := s.GetDataset(ctx, f.datasetID)
	require.NoError(t, err)
	assert.Equal(t, f.projectID, dataset.ProjectID)

	images, err := s.ListImages(ctx, f.datasetID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	for i, img := range images {
		assert.Equal(t, f.imageIDs[i], img.ID, "images are returned in upload order")
		assert.Equal(t, 512, img.Width)
	}

	mc, err := s.GetModelConfig(ctx, f.modelConfigID)
	require.NoError(t, err)
	require.NotNil(t, mc.Pricing)
	assert.Equal(t, models.ImagePerTile, mc.Pricing.ImagePriceMode)
	assert.InDelta(t, 2.5, mc.Pricing.InputPricePer1M, 1e-9)

	_, err = s.GetDataset(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnnotations_UpsertAndBatchGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 2)
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := &models.Annotation{
		ID: uuid.New(), ImageID: f.imageIDs[0], AnswerValue: json.RawMessage(`true`),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.UpsertAnnotation(ctx, a))

	a.AnswerValue = json.RawMessage(`false`)
	a.IsFlagged = true
	require.NoError(t, s.UpsertAnnotation(ctx, a))

	got, err := s.GetAnnotation(ctx, f.imageIDs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `false`, string(got.AnswerValue))
	assert.True(t, got.IsFlagged)

	batch, err := s.GetAnnotations(ctx, f.imageIDs)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Contains(t, batch, f.imageIDs[0])

	_, err = s.GetAnnotation(ctx, f.imageIDs[1])
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Evaluation Tests ---

func TestEvaluation_CreateClaimAndRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 3)

	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))

	got, err := s.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SelectionRandomCount, got.Selection.Mode)
	require.NotNil(t, got.Selection.Count)
	assert.Equal(t, 2, *got.Selection.Count)
	assert.Equal(t, e.PromptChain, got.PromptChain)
	assert.Nil(t, got.Accuracy)

	claimed := claimAll(t, s, e, f.imageIDs[:2])
	assert.Equal(t, models.EvaluationStatusRunning, claimed.Status)
	assert.Equal(t, 2, claimed.TotalImages)
	assert.Equal(t, f.imageIDs[:2], claimed.SelectedImageIDs)
	require.NotNil(t, claimed.SelectionSeed)
	assert.Equal(t, int64(42), *claimed.SelectionSeed)
	require.NotNil(t, claimed.ModelSnapshot)
	assert.Equal(t, "gpt-4o", claimed.ModelSnapshot.ModelName)
	assert.NotNil(t, claimed.StartedAt)
}

func TestEvaluation_ClaimIsSingleOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 2)

	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimEvaluation(ctx, e.ID, store.EvaluationClaim{SelectedImageIDs: f.imageIDs})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, store.ErrInvalidTransition) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 4, conflicts)
}

func TestEvaluation_ClaimNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.ClaimEvaluation(context.Background(), uuid.New(), store.EvaluationClaim{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvaluation_RecordResultCountsOncePerImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 3)

	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))
	claimAll(t, s, e, f.imageIDs)

	p, err := s.RecordResult(ctx, result(e.ID, f.imageIDs[0], boolPtr(true), 0.001))
	require.NoError(t, err)
	assert.Equal(t, 1, p.ProcessedImages)
	require.NotNil(t, p.Accuracy)
	assert.InDelta(t, 100.0, *p.Accuracy, 1e-9)

	// Overwriting the same image flips correctness without double counting.
	p, err = s.RecordResult(ctx, result(e.ID, f.imageIDs[0], boolPtr(false), 0.001))
	require.NoError(t, err)
	assert.Equal(t, 1, p.ProcessedImages)
	assert.Equal(t, 1, p.ScoredImages)
	require.NotNil(t, p.Accuracy)
	assert.InDelta(t, 0.0, *p.Accuracy, 1e-9)
	assert.InDelta(t, 0.002, p.ActualCost, 1e-9)

	// Unscored results leave accuracy alone.
	errResult := result(e.ID, f.imageIDs[1], nil, 0)
	errResult.Error = strPtr("openai invalid_request (status 400): bad image")
	p, err = s.RecordResult(ctx, errResult)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ProcessedImages)
	assert.Equal(t, 1, p.ScoredImages)
	assert.InDelta(t, 66.67, p.Progress, 0.001)

	results, total, err := s.ListResults(ctx, store.ResultFilter{EvaluationID: e.ID, Filter: models.FilterIncorrect})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)

	results, total, err = s.ListResults(ctx, store.ResultFilter{EvaluationID: e.ID, Filter: models.FilterCorrect})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, results)
}

func TestEvaluation_ConcurrentRecordResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 20)

	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))
	claimAll(t, s, e, f.imageIDs)

	var wg sync.WaitGroup
	for i, id := range f.imageIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordResult(ctx, result(e.ID, id, boolPtr(i%2 == 0), 0.000001))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.ProcessedImages)
	assert.Equal(t, 10, got.CorrectImages)
	assert.InDelta(t, 100.0, got.Progress, 1e-9)
	assert.InDelta(t, 0.00002, got.ActualCost, 1e-9)

	require.NoError(t, s.UpdateEvaluationStatus(ctx, e.ID, models.EvaluationStatusCompleted,
		store.WithCostDetails(models.CostDetails{Provider: "openai", ImagesProcessed: 20})))
	got, err = s.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationStatusCompleted, got.Status)
	require.NotNil(t, got.CostDetails)
	assert.Equal(t, 20, got.CostDetails.ImagesProcessed)
	assert.NotNil(t, got.CompletedAt)
}

func TestEvaluation_CompleteRequiresAllProcessed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 2)

	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))
	claimAll(t, s, e, f.imageIDs)

	_, err := s.RecordResult(ctx, result(e.ID, f.imageIDs[0], boolPtr(true), 0))
	require.NoError(t, err)

	err = s.UpdateEvaluationStatus(ctx, e.ID, models.EvaluationStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.UpdateEvaluationStatus(ctx, e.ID, models.EvaluationStatusFailed,
		store.WithErrorMessage(models.CancelledMessage)))

	got, err := s.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, models.CancelledMessage, *got.ErrorMessage)

	// Terminal rows reject further writes.
	_, err = s.RecordResult(ctx, result(e.ID, f.imageIDs[1], boolPtr(true), 0))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	err = s.UpdateEvaluationStatus(ctx, e.ID, models.EvaluationStatusFailed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestEvaluation_ResampleOnlyWhilePending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 2)

	e := newPendingEvaluation(f)
	require.NoError(t, s.CreateEvaluation(ctx, e))

	require.NoError(t, s.ResampleEvaluation(ctx, e.ID, 7))
	got, err := s.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SelectionSeed)
	assert.Equal(t, int64(7), *got.SelectionSeed)

	claimAll(t, s, e, f.imageIDs)
	assert.ErrorIs(t, s.ResampleEvaluation(ctx, e.ID, 8), store.ErrInvalidTransition)
}

// --- Import Job Tests ---

func TestImportJob_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	f := seedCatalog(t, pool, 1)
	now := time.Now().UTC().Truncate(time.Microsecond)

	job := &models.ImportJob{
		ID: uuid.New(), DatasetID: f.datasetID, Filename: "labels.csv",
		Status: models.ImportStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateImportJob(ctx, job))

	err := s.UpdateImportProgress(ctx, job.ID, models.ImportProgress{ProcessedRows: 1})
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "progress is only written while processing")

	require.NoError(t, s.UpdateImportJobStatus(ctx, job.ID, models.ImportStatusProcessing, store.WithTotalRows(3)))
	require.NoError(t, s.UpdateImportProgress(ctx, job.ID, models.ImportProgress{
		ProcessedRows: 3, CreatedCount: 1, UpdatedCount: 1,
		Errors: []models.RowError{{Row: 3, Error: "unknown image"}},
	}))
	require.NoError(t, s.UpdateImportJobStatus(ctx, job.ID, models.ImportStatusCompleted))

	got, err := s.GetImportJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, got.Status)
	assert.Equal(t, 3, got.TotalRows)
	assert.Equal(t, []models.RowError{{Row: 3, Error: "unknown image"}}, got.Errors)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	err = s.UpdateImportJobStatus(ctx, job.ID, models.ImportStatusFailed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.GetImportJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	assert.NoError(t, s.Ping(context.Background()))
}
