package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Catalog ---

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, question, question_type, options, created_at, updated_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Question, &p.QuestionType, &p.Options, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	var d models.Dataset
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, created_at, updated_at FROM datasets WHERE id = $1`, id,
	).Scan(&d.ID, &d.ProjectID, &d.Name, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &d, nil
}

// ListImages returns every image of a dataset in upload order, failed uploads included.
func (s *PostgresStore) ListImages(ctx context.Context, datasetID uuid.UUID) ([]*models.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset_id, filename, storage_ref, processing_status, width, height, created_at
		 FROM images WHERE dataset_id = $1 ORDER BY created_at, id`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.DatasetID, &img.Filename, &img.StorageRef,
			&img.ProcessingStatus, &img.Width, &img.Height, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) GetModelConfig(ctx context.Context, id uuid.UUID) (*models.ModelConfig, error) {
	var m models.ModelConfig
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, provider, model_name, temperature, max_tokens, concurrency, pricing_config, created_at, updated_at
		 FROM model_configs WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.Provider, &m.ModelName, &m.Temperature, &m.MaxTokens,
		&m.Concurrency, &m.Pricing, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model config: %w", err)
	}
	return &m, nil
}

// --- Annotations ---

const annotationColumns = `id, image_id, answer_value, is_skipped, is_flagged, created_at, updated_at`

func scanAnnotation(row pgx.Row) (*models.Annotation, error) {
	var a models.Annotation
	if err := row.Scan(&a.ID, &a.ImageID, &a.AnswerValue, &a.IsSkipped, &a.IsFlagged,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, imageID uuid.UUID) (*models.Annotation, error) {
	a, err := scanAnnotation(s.pool.QueryRow(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE image_id = $1`, imageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get annotation: %w", err)
	}
	return a, nil
}

// GetAnnotations returns annotations keyed by image id. Images without one are absent from the map.
func (s *PostgresStore) GetAnnotations(ctx context.Context, imageIDs []uuid.UUID) (map[uuid.UUID]*models.Annotation, error) {
	out := make(map[uuid.UUID]*models.Annotation, len(imageIDs))
	if len(imageIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE image_id = ANY($1::uuid[])`, uuidStrings(imageIDs))
	if err != nil {
		return nil, fmt.Errorf("get annotations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		out[a.ImageID] = a
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAnnotation(ctx context.Context, a *models.Annotation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO annotations (id, image_id, answer_value, is_skipped, is_flagged, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (image_id) DO UPDATE SET
		   answer_value = EXCLUDED.answer_value,
		   is_skipped = EXCLUDED.is_skipped,
		   is_flagged = EXCLUDED.is_flagged,
		   updated_at = EXCLUDED.updated_at`,
		a.ID, a.ImageID, nullableJSON(a.AnswerValue), a.IsSkipped, a.IsFlagged, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert annotation: %w", err)
	}
	return nil
}

// --- Evaluations ---

const evaluationColumns = `id, dataset_id, model_config_id, name, system_message, prompt_text, prompt_chain,
	selection_config, selection_seed, selected_image_ids, warnings, status, progress, total_images,
	processed_images, scored_images, correct_images, accuracy, estimated_cost, actual_cost, cost_details,
	model_snapshot, error_message, started_at, completed_at, created_at, updated_at`

func scanEvaluation(row pgx.Row) (*models.Evaluation, error) {
	var e models.Evaluation
	err := row.Scan(&e.ID, &e.DatasetID, &e.ModelConfigID, &e.Name, &e.SystemMessage, &e.PromptText,
		&e.PromptChain, &e.Selection, &e.SelectionSeed, &e.SelectedImageIDs, &e.Warnings, &e.Status,
		&e.Progress, &e.TotalImages, &e.ProcessedImages, &e.ScoredImages, &e.CorrectImages, &e.Accuracy,
		&e.EstimatedCost, &e.ActualCost, &e.CostDetails, &e.ModelSnapshot, &e.ErrorMessage,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	if err := e.Selection.Validate(); err != nil {
		return err
	}
	chain := e.PromptChain
	if chain == nil {
		chain = []models.PromptStep{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evaluations (id, dataset_id, model_config_id, name, system_message, prompt_text,
		   prompt_chain, selection_config, selection_seed, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.DatasetID, e.ModelConfigID, e.Name, e.SystemMessage, e.PromptText,
		chain, e.Selection, e.SelectionSeed, e.Status, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, id uuid.UUID) (*models.Evaluation, error) {
	e, err := scanEvaluation(s.pool.QueryRow(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	return e, nil
}

// ClaimEvaluation moves a pending evaluation to running and persists the resolved selection.
// Only one caller can win: the update matches on status = 'pending'.
func (s *PostgresStore) ClaimEvaluation(ctx context.Context, id uuid.UUID, claim EvaluationClaim) (*models.Evaluation, error) {
	warnings := claim.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	e, err := scanEvaluation(s.pool.QueryRow(ctx,
		`UPDATE evaluations SET
		   status = 'running',
		   selected_image_ids = $2,
		   selection_seed = $3,
		   total_images = $4,
		   warnings = $5,
		   model_snapshot = $6,
		   estimated_cost = $7,
		   progress = 0,
		   started_at = NOW(),
		   updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+evaluationColumns,
		id, claim.SelectedImageIDs, claim.Seed, len(claim.SelectedImageIDs), warnings,
		claim.ModelSnapshot, claim.EstimatedCost))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionError(ctx, "evaluations", id, models.EvaluationStatusRunning)
	}
	if err != nil {
		return nil, fmt.Errorf("claim evaluation: %w", err)
	}
	return e, nil
}

// ResampleEvaluation replaces the selection seed of a pending evaluation.
func (s *PostgresStore) ResampleEvaluation(ctx context.Context, id uuid.UUID, seed int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE evaluations SET selection_seed = $2, selected_image_ids = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id, seed)
	if err != nil {
		return fmt.Errorf("resample evaluation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, "evaluations", id, "resampled")
	}
	return nil
}

// UpdateEvaluationStatus moves an evaluation to a terminal status. Completion
// additionally requires every selected image to have been processed.
func (s *PostgresStore) UpdateEvaluationStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error {
	from, ok := evaluationTransitions[status]
	if !ok {
		return fmt.Errorf("%w: cannot set evaluation status %q", ErrInvalidTransition, status)
	}
	params := applyOptions(opts)

	query := `UPDATE evaluations SET status = $2, completed_at = NOW(), updated_at = NOW()`
	args := []any{id, status, from}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.CostDetails != nil {
		query += fmt.Sprintf(", cost_details = $%d", argIdx)
		args = append(args, *params.CostDetails)
		argIdx++
	}

	query += " WHERE id = $1 AND status = ANY($3)"
	if status == models.EvaluationStatusCompleted {
		query += " AND processed_images = total_images"
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update evaluation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, "evaluations", id, status)
	}
	return nil
}

// RecordResult upserts one image's result and applies the counter deltas in the
// same transaction. Re-processing an image overwrites its row and never counts twice.
func (s *PostgresStore) RecordResult(ctx context.Context, r *models.EvaluationResult) (*models.EvaluationProgress, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin record result: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM evaluations WHERE id = $1 FOR UPDATE`, r.EvaluationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock evaluation: %w", err)
	}
	if status != models.EvaluationStatusRunning {
		return nil, fmt.Errorf("%w: evaluation is %s", ErrInvalidTransition, status)
	}

	var prev *models.EvaluationResult
	var prevCorrect *bool
	err = tx.QueryRow(ctx,
		`SELECT is_correct FROM evaluation_results WHERE evaluation_id = $1 AND image_id = $2`,
		r.EvaluationID, r.ImageID).Scan(&prevCorrect)
	switch {
	case err == nil:
		prev = &models.EvaluationResult{IsCorrect: prevCorrect}
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get prior result: %w", err)
	}

	steps := r.StepResults
	if steps == nil {
		steps = []models.StepResult{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO evaluation_results (id, evaluation_id, image_id, model_response, parsed_answer,
		   ground_truth, is_correct, latency_ms, input_tokens, output_tokens, cost, step_results, error,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		 ON CONFLICT (evaluation_id, image_id) DO UPDATE SET
		   model_response = EXCLUDED.model_response,
		   parsed_answer = EXCLUDED.parsed_answer,
		   ground_truth = EXCLUDED.ground_truth,
		   is_correct = EXCLUDED.is_correct,
		   latency_ms = EXCLUDED.latency_ms,
		   input_tokens = EXCLUDED.input_tokens,
		   output_tokens = EXCLUDED.output_tokens,
		   cost = EXCLUDED.cost,
		   step_results = EXCLUDED.step_results,
		   error = EXCLUDED.error,
		   updated_at = EXCLUDED.updated_at`,
		r.ID, r.EvaluationID, r.ImageID, r.ModelResponse, nullableJSON(r.ParsedAnswer),
		nullableJSON(r.GroundTruth), r.IsCorrect, r.LatencyMS, r.InputTokens, r.OutputTokens,
		r.Cost, steps, r.Error, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert result: %w", err)
	}

	dProcessed, dScored, dCorrect := resultDeltas(prev, r)

	var p models.EvaluationProgress
	err = tx.QueryRow(ctx,
		`UPDATE evaluations SET
		   processed_images = processed_images + $2,
		   scored_images = scored_images + $3,
		   correct_images = correct_images + $4,
		   actual_cost = ROUND((actual_cost + $5)::numeric, 6)::double precision,
		   progress = CASE WHEN total_images > 0
		     THEN ROUND(((processed_images + $2) * 100.0 / total_images)::numeric, 2)::double precision
		     ELSE 0 END,
		   accuracy = CASE WHEN scored_images + $3 > 0
		     THEN (correct_images + $4) * 100.0 / (scored_images + $3)
		     ELSE NULL END,
		   updated_at = NOW()
		 WHERE id = $1
		 RETURNING status, total_images, processed_images, scored_images, correct_images, progress, accuracy, actual_cost`,
		r.EvaluationID, dProcessed, dScored, dCorrect, r.Cost,
	).Scan(&p.Status, &p.TotalImages, &p.ProcessedImages, &p.ScoredImages, &p.CorrectImages,
		&p.Progress, &p.Accuracy, &p.ActualCost)
	if err != nil {
		return nil, fmt.Errorf("increment evaluation counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit record result: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]*models.EvaluationResult, int, error) {
	filter = filter.normalize()

	where := "evaluation_id = $1"
	switch filter.Filter {
	case models.FilterCorrect:
		where += " AND is_correct = TRUE"
	case models.FilterIncorrect:
		where += " AND (is_correct = FALSE OR error IS NOT NULL)"
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM evaluation_results WHERE "+where, filter.EvaluationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, evaluation_id, image_id, model_response, parsed_answer, ground_truth, is_correct,
		   latency_ms, input_tokens, output_tokens, cost, step_results, error, created_at, updated_at
		 FROM evaluation_results WHERE `+where+` ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		filter.EvaluationID, filter.Limit, filter.Skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*models.EvaluationResult
	for rows.Next() {
		var r models.EvaluationResult
		if err := rows.Scan(&r.ID, &r.EvaluationID, &r.ImageID, &r.ModelResponse, &r.ParsedAnswer,
			&r.GroundTruth, &r.IsCorrect, &r.LatencyMS, &r.InputTokens, &r.OutputTokens, &r.Cost,
			&r.StepResults, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, &r)
	}
	return results, total, rows.Err()
}

// --- Import Jobs ---

func (s *PostgresStore) CreateImportJob(ctx context.Context, job *models.ImportJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_jobs (id, dataset_id, filename, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.DatasetID, job.Filename, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImportJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	var j models.ImportJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, dataset_id, filename, status, total_rows, processed_rows, created_count, updated_count,
		   skipped_count, errors, error_message, started_at, completed_at, created_at, updated_at
		 FROM import_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.DatasetID, &j.Filename, &j.Status, &j.TotalRows, &j.ProcessedRows,
		&j.CreatedCount, &j.UpdatedCount, &j.SkippedCount, &j.Errors, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateImportJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error {
	from, ok := importTransitions[status]
	if !ok {
		return fmt.Errorf("%w: cannot set import status %q", ErrInvalidTransition, status)
	}
	params := applyOptions(opts)

	query := `UPDATE import_jobs SET status = $2, updated_at = NOW()`
	args := []any{id, status, from}
	argIdx := 4

	if status == models.ImportStatusProcessing {
		query += ", started_at = NOW()"
	} else {
		query += ", completed_at = NOW()"
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.TotalRows != nil {
		query += fmt.Sprintf(", total_rows = $%d", argIdx)
		args = append(args, *params.TotalRows)
		argIdx++
	}

	query += " WHERE id = $1 AND status = ANY($3)"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update import job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, "import_jobs", id, status)
	}
	return nil
}

// UpdateImportProgress overwrites the counters of a processing job.
func (s *PostgresStore) UpdateImportProgress(ctx context.Context, id uuid.UUID, p models.ImportProgress) error {
	rowErrors := p.Errors
	if rowErrors == nil {
		rowErrors = []models.RowError{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET processed_rows = $2, created_count = $3, updated_count = $4,
		   skipped_count = $5, errors = $6, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, p.ProcessedRows, p.CreatedCount, p.UpdatedCount, p.SkippedCount, rowErrors)
	if err != nil {
		return fmt.Errorf("update import progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, "import_jobs", id, "updated")
	}
	return nil
}

// transitionError explains a CAS update that matched no row.
func (s *PostgresStore) transitionError(ctx context.Context, table string, id uuid.UUID, target string) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s status: %w", table, err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
