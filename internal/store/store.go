package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status change does not match the
// row's current state. Status updates are compare-and-swap, so losing a race
// also surfaces as this error.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	ListImages(ctx context.Context, datasetID uuid.UUID) ([]*models.Image, error)
	GetModelConfig(ctx context.Context, id uuid.UUID) (*models.ModelConfig, error)

	GetAnnotation(ctx context.Context, imageID uuid.UUID) (*models.Annotation, error)
	GetAnnotations(ctx context.Context, imageIDs []uuid.UUID) (map[uuid.UUID]*models.Annotation, error)
	UpsertAnnotation(ctx context.Context, a *models.Annotation) error

	CreateEvaluation(ctx context.Context, e *models.Evaluation) error
	GetEvaluation(ctx context.Context, id uuid.UUID) (*models.Evaluation, error)
	ClaimEvaluation(ctx context.Context, id uuid.UUID, claim EvaluationClaim) (*models.Evaluation, error)
	ResampleEvaluation(ctx context.Context, id uuid.UUID, seed int64) error
	UpdateEvaluationStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error
	RecordResult(ctx context.Context, r *models.EvaluationResult) (*models.EvaluationProgress, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]*models.EvaluationResult, int, error)

	CreateImportJob(ctx context.Context, job *models.ImportJob) error
	GetImportJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	UpdateImportJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error
	UpdateImportProgress(ctx context.Context, id uuid.UUID, p models.ImportProgress) error
}

// EvaluationClaim is everything persisted by the pending -> running transition.
type EvaluationClaim struct {
	SelectedImageIDs []uuid.UUID
	Seed             *int64
	Warnings         []string
	ModelSnapshot    *models.ModelConfig
	EstimatedCost    float64
}

type ResultFilter struct {
	EvaluationID uuid.UUID
	Filter       models.ResultFilter
	Skip         int
	Limit        int
}

// normalize clamps pagination to skip >= 0 and limit in [1, 500], default 50.
func (f ResultFilter) normalize() ResultFilter {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Filter == "" {
		f.Filter = models.FilterAll
	}
	return f
}

type updateParams struct {
	ErrorMessage *string
	CostDetails  *models.CostDetails
	TotalRows    *int
}

type UpdateOption func(*updateParams)

func WithErrorMessage(msg string) UpdateOption {
	return func(p *updateParams) {
		p.ErrorMessage = &msg
	}
}

// WithCostDetails stores the final cost breakdown on a terminal evaluation.
func WithCostDetails(d models.CostDetails) UpdateOption {
	return func(p *updateParams) {
		p.CostDetails = &d
	}
}

// WithTotalRows records the CSV row count when an import starts processing.
func WithTotalRows(n int) UpdateOption {
	return func(p *updateParams) {
		p.TotalRows = &n
	}
}

func applyOptions(opts []UpdateOption) *updateParams {
	params := &updateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// evaluationTransitions lists the allowed source states per target state.
// pending -> running is only reachable through ClaimEvaluation.
var evaluationTransitions = map[string][]string{
	models.EvaluationStatusCompleted: {models.EvaluationStatusRunning},
	models.EvaluationStatusFailed:    {models.EvaluationStatusPending, models.EvaluationStatusRunning},
}

var importTransitions = map[string][]string{
	models.ImportStatusProcessing: {models.ImportStatusPending},
	models.ImportStatusCompleted:  {models.ImportStatusProcessing},
	models.ImportStatusFailed:     {models.ImportStatusPending, models.ImportStatusProcessing},
}

func isTerminal(status string) bool {
	switch status {
	case models.EvaluationStatusCompleted, models.EvaluationStatusFailed:
		return true
	}
	return false
}

// resultDeltas computes counter changes for writing next over prev (nil when the image is new).
func resultDeltas(prev *models.EvaluationResult, next *models.EvaluationResult) (processed, scored, correct int) {
	if prev == nil {
		processed = 1
	}
	if next.IsCorrect != nil {
		scored++
		if *next.IsCorrect {
			correct++
		}
	}
	if prev != nil && prev.IsCorrect != nil {
		scored--
		if *prev.IsCorrect {
			correct--
		}
	}
	return processed, scored, correct
}
