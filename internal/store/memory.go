package store

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// MemoryStore is an in-process Store with the same transition and counter
// semantics as PostgresStore. It backs unit tests and `benchctl` dry runs.
type MemoryStore struct {
	mu          sync.Mutex
	apiKeys     map[uuid.UUID]models.APIKey
	projects    map[uuid.UUID]models.Project
	datasets    map[uuid.UUID]models.Dataset
	images      map[uuid.UUID]models.Image
	modelCfgs   map[uuid.UUID]models.ModelConfig
	annotations map[uuid.UUID]models.Annotation // by image id
	evaluations map[uuid.UUID]models.Evaluation
	results     map[uuid.UUID]map[uuid.UUID]models.EvaluationResult // evaluation id -> image id
	imports     map[uuid.UUID]models.ImportJob
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apiKeys:     make(map[uuid.UUID]models.APIKey),
		projects:    make(map[uuid.UUID]models.Project),
		datasets:    make(map[uuid.UUID]models.Dataset),
		images:      make(map[uuid.UUID]models.Image),
		modelCfgs:   make(map[uuid.UUID]models.ModelConfig),
		annotations: make(map[uuid.UUID]models.Annotation),
		evaluations: make(map[uuid.UUID]models.Evaluation),
		results:     make(map[uuid.UUID]map[uuid.UUID]models.EvaluationResult),
		imports:     make(map[uuid.UUID]models.ImportJob),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// --- Seeding (the catalog is owned by the CRUD layer) ---

func (s *MemoryStore) PutProject(p models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

func (s *MemoryStore) PutDataset(d models.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[d.ID] = d
}

// DeleteDataset removes a dataset and, as the foreign keys do, everything under it.
func (s *MemoryStore) DeleteDataset(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.datasets, id)
	for imgID, img := range s.images {
		if img.DatasetID == id {
			delete(s.images, imgID)
			delete(s.annotations, imgID)
		}
	}
	for evID, ev := range s.evaluations {
		if ev.DatasetID == id {
			delete(s.evaluations, evID)
			delete(s.results, evID)
		}
	}
	for jobID, job := range s.imports {
		if job.DatasetID == id {
			delete(s.imports, jobID)
		}
	}
}

func (s *MemoryStore) PutImage(img models.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC().Add(time.Duration(len(s.images)) * time.Microsecond)
	}
	s.images[img.ID] = img
}

func (s *MemoryStore) PutModelConfig(m models.ModelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelCfgs[m.ID] = m
}

// PutEvaluation replaces an evaluation the way an external edit would.
func (s *MemoryStore) PutEvaluation(e models.Evaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.UpdatedAt = time.Now().UTC()
	s.evaluations[e.ID] = *cloneEvaluation(&e)
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			k := k
			out = append(out, &k)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	s.apiKeys[id] = k
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	for _, k := range s.apiKeys {
		if k.Name == key.Name && k.DeletedAt == nil {
			return ErrDuplicateKey
		}
	}
	s.apiKeys[key.ID] = *key
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.DeletedAt == nil {
			k := k
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	s.apiKeys[id] = k
	return nil
}

// --- Catalog ---

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Options = slices.Clone(p.Options)
	return &p, nil
}

func (s *MemoryStore) GetDataset(_ context.Context, id uuid.UUID) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.datasets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) ListImages(_ context.Context, datasetID uuid.UUID) ([]*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Image
	for _, img := range s.images {
		if img.DatasetID == datasetID {
			img := img
			out = append(out, &img)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetModelConfig(_ context.Context, id uuid.UUID) (*models.ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modelCfgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneModelConfig(&m), nil
}

// --- Annotations ---

func (s *MemoryStore) GetAnnotation(_ context.Context, imageID uuid.UUID) (*models.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.annotations[imageID]
	if !ok {
		return nil, ErrNotFound
	}
	a.AnswerValue = slices.Clone(a.AnswerValue)
	return &a, nil
}

func (s *MemoryStore) GetAnnotations(_ context.Context, imageIDs []uuid.UUID) (map[uuid.UUID]*models.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]*models.Annotation, len(imageIDs))
	for _, id := range imageIDs {
		if a, ok := s.annotations[id]; ok {
			a.AnswerValue = slices.Clone(a.AnswerValue)
			out[id] = &a
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertAnnotation(_ context.Context, a *models.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[a.ImageID]; !ok {
		return fmt.Errorf("upsert annotation: image %s: %w", a.ImageID, ErrNotFound)
	}
	next := *a
	next.AnswerValue = slices.Clone(a.AnswerValue)
	if prev, ok := s.annotations[a.ImageID]; ok {
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt
	}
	s.annotations[a.ImageID] = next
	return nil
}

// --- Evaluations ---

func (s *MemoryStore) CreateEvaluation(_ context.Context, e *models.Evaluation) error {
	if err := e.Selection.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evaluations[e.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.datasets[e.DatasetID]; !ok {
		return fmt.Errorf("create evaluation: dataset %s: %w", e.DatasetID, ErrNotFound)
	}
	s.evaluations[e.ID] = *cloneEvaluation(e)
	return nil
}

func (s *MemoryStore) GetEvaluation(_ context.Context, id uuid.UUID) (*models.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEvaluation(&e), nil
}

func (s *MemoryStore) ClaimEvaluation(_ context.Context, id uuid.UUID, claim EvaluationClaim) (*models.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != models.EvaluationStatusPending {
		return nil, fmt.Errorf("%w: %s -> running", ErrInvalidTransition, e.Status)
	}
	now := time.Now().UTC()
	est := claim.EstimatedCost
	e.Status = models.EvaluationStatusRunning
	e.SelectedImageIDs = slices.Clone(claim.SelectedImageIDs)
	e.SelectionSeed = claim.Seed
	e.TotalImages = len(claim.SelectedImageIDs)
	e.Warnings = slices.Clone(claim.Warnings)
	e.ModelSnapshot = cloneModelConfig(claim.ModelSnapshot)
	e.EstimatedCost = &est
	e.Progress = 0
	e.StartedAt = &now
	e.UpdatedAt = now
	s.evaluations[id] = e
	return cloneEvaluation(&e), nil
}

func (s *MemoryStore) ResampleEvaluation(_ context.Context, id uuid.UUID, seed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != models.EvaluationStatusPending {
		return fmt.Errorf("%w: %s -> resampled", ErrInvalidTransition, e.Status)
	}
	e.SelectionSeed = &seed
	e.SelectedImageIDs = nil
	e.UpdatedAt = time.Now().UTC()
	s.evaluations[id] = e
	return nil
}

func (s *MemoryStore) UpdateEvaluationStatus(_ context.Context, id uuid.UUID, status string, opts ...UpdateOption) error {
	from, ok := evaluationTransitions[status]
	if !ok {
		return fmt.Errorf("%w: cannot set evaluation status %q", ErrInvalidTransition, status)
	}
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(from, e.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, status)
	}
	if status == models.EvaluationStatusCompleted && e.ProcessedImages != e.TotalImages {
		return fmt.Errorf("%w: %d of %d images processed", ErrInvalidTransition, e.ProcessedImages, e.TotalImages)
	}

	now := time.Now().UTC()
	e.Status = status
	e.CompletedAt = &now
	e.UpdatedAt = now
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		e.ErrorMessage = &msg
	}
	if params.CostDetails != nil {
		d := *params.CostDetails
		e.CostDetails = &d
	}
	s.evaluations[id] = e
	return nil
}

func (s *MemoryStore) RecordResult(_ context.Context, r *models.EvaluationResult) (*models.EvaluationProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[r.EvaluationID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != models.EvaluationStatusRunning {
		return nil, fmt.Errorf("%w: evaluation is %s", ErrInvalidTransition, e.Status)
	}

	rows := s.results[r.EvaluationID]
	if rows == nil {
		rows = make(map[uuid.UUID]models.EvaluationResult)
		s.results[r.EvaluationID] = rows
	}

	now := time.Now().UTC()
	next := cloneResult(r)
	var prev *models.EvaluationResult
	if p, ok := rows[r.ImageID]; ok {
		prev = &p
		next.ID = p.ID
		next.CreatedAt = p.CreatedAt
	} else {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	dProcessed, dScored, dCorrect := resultDeltas(prev, r)
	if e.ProcessedImages+dProcessed > e.TotalImages {
		return nil, fmt.Errorf("record result: processed_images would exceed total_images")
	}
	rows[r.ImageID] = *next

	e.ProcessedImages += dProcessed
	e.ScoredImages += dScored
	e.CorrectImages += dCorrect
	e.ActualCost = round(e.ActualCost+r.Cost, 6)
	if e.TotalImages > 0 {
		e.Progress = round(float64(e.ProcessedImages)*100/float64(e.TotalImages), 2)
	}
	if e.ScoredImages > 0 {
		acc := float64(e.CorrectImages) * 100 / float64(e.ScoredImages)
		e.Accuracy = &acc
	} else {
		e.Accuracy = nil
	}
	e.UpdatedAt = now
	s.evaluations[r.EvaluationID] = e

	return progressOf(&e), nil
}

func (s *MemoryStore) ListResults(_ context.Context, filter ResultFilter) ([]*models.EvaluationResult, int, error) {
	filter = filter.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.EvaluationResult
	for _, r := range s.results[filter.EvaluationID] {
		switch filter.Filter {
		case models.FilterCorrect:
			if r.IsCorrect == nil || !*r.IsCorrect {
				continue
			}
		case models.FilterIncorrect:
			if !((r.IsCorrect != nil && !*r.IsCorrect) || r.Error != nil) {
				continue
			}
		}
		matched = append(matched, cloneResult(&r))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Skip >= total {
		return nil, total, nil
	}
	end := min(filter.Skip+filter.Limit, total)
	return matched[filter.Skip:end], total, nil
}

// --- Import Jobs ---

func (s *MemoryStore) CreateImportJob(_ context.Context, job *models.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imports[job.ID]; ok {
		return ErrDuplicateKey
	}
	j := *job
	j.Errors = slices.Clone(job.Errors)
	s.imports[job.ID] = j
	return nil
}

func (s *MemoryStore) GetImportJob(_ context.Context, id uuid.UUID) (*models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.imports[id]
	if !ok {
		return nil, ErrNotFound
	}
	j.Errors = slices.Clone(j.Errors)
	return &j, nil
}

func (s *MemoryStore) UpdateImportJobStatus(_ context.Context, id uuid.UUID, status string, opts ...UpdateOption) error {
	from, ok := importTransitions[status]
	if !ok {
		return fmt.Errorf("%w: cannot set import status %q", ErrInvalidTransition, status)
	}
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.imports[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(from, j.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	now := time.Now().UTC()
	j.Status = status
	if status == models.ImportStatusProcessing {
		j.StartedAt = &now
	} else {
		j.CompletedAt = &now
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	if params.TotalRows != nil {
		j.TotalRows = *params.TotalRows
	}
	j.UpdatedAt = now
	s.imports[id] = j
	return nil
}

func (s *MemoryStore) UpdateImportProgress(_ context.Context, id uuid.UUID, p models.ImportProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.imports[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != models.ImportStatusProcessing {
		return fmt.Errorf("%w: %s -> updated", ErrInvalidTransition, j.Status)
	}
	j.ProcessedRows = p.ProcessedRows
	j.CreatedCount = p.CreatedCount
	j.UpdatedCount = p.UpdatedCount
	j.SkippedCount = p.SkippedCount
	j.Errors = slices.Clone(p.Errors)
	j.UpdatedAt = time.Now().UTC()
	s.imports[id] = j
	return nil
}

func progressOf(e *models.Evaluation) *models.EvaluationProgress {
	p := &models.EvaluationProgress{
		Status:          e.Status,
		TotalImages:     e.TotalImages,
		ProcessedImages: e.ProcessedImages,
		ScoredImages:    e.ScoredImages,
		CorrectImages:   e.CorrectImages,
		Progress:        e.Progress,
		ActualCost:      e.ActualCost,
	}
	if e.Accuracy != nil {
		acc := *e.Accuracy
		p.Accuracy = &acc
	}
	return p
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

func cloneEvaluation(e *models.Evaluation) *models.Evaluation {
	out := *e
	out.PromptChain = slices.Clone(e.PromptChain)
	out.SelectedImageIDs = slices.Clone(e.SelectedImageIDs)
	out.Warnings = slices.Clone(e.Warnings)
	out.Selection.ImageIDs = slices.Clone(e.Selection.ImageIDs)
	out.ModelSnapshot = cloneModelConfig(e.ModelSnapshot)
	if e.CostDetails != nil {
		d := *e.CostDetails
		out.CostDetails = &d
	}
	return &out
}

func cloneModelConfig(m *models.ModelConfig) *models.ModelConfig {
	if m == nil {
		return nil
	}
	out := *m
	if m.Temperature != nil {
		t := *m.Temperature
		out.Temperature = &t
	}
	if m.Pricing != nil {
		p := *m.Pricing
		out.Pricing = &p
	}
	return &out
}

func cloneResult(r *models.EvaluationResult) *models.EvaluationResult {
	out := *r
	out.ParsedAnswer = slices.Clone(r.ParsedAnswer)
	out.GroundTruth = slices.Clone(r.GroundTruth)
	out.StepResults = slices.Clone(r.StepResults)
	return &out
}
