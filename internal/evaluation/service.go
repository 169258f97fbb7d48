// Package evaluation runs evaluations: it resolves the image selection, drives
// the prompt chain through a model provider with bounded concurrency, scores
// every answer and accounts the cost.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	"github.com/kiranshivaraju/visionbench/internal/cache"
	"github.com/kiranshivaraju/visionbench/internal/imagestore"
	"github.com/kiranshivaraju/visionbench/internal/pricing"
	"github.com/kiranshivaraju/visionbench/internal/prompt"
	"github.com/kiranshivaraju/visionbench/internal/selection"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/internal/telemetry"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// DefaultEstimateTTL bounds how long a cached estimate is served.
const DefaultEstimateTTL = 10 * time.Minute

var (
	errCancelled = errors.New(models.CancelledMessage)
	errShutdown  = errors.New("evaluation interrupted by server shutdown")
)

// ProviderFactory builds the adapter for a model config snapshot.
type ProviderFactory func(mc *models.ModelConfig) (models.ModelProvider, error)

// Deps are the collaborators of a Service. Cache and Metrics are optional.
type Deps struct {
	Store     store.Store
	Cache     cache.Cache
	Images    imagestore.Loader
	Providers ProviderFactory
	Catalog   *pricing.Catalog
	Metrics   *telemetry.Metrics
}

// Options tune run behavior.
type Options struct {
	DefaultConcurrency int
	Heuristic          pricing.Heuristic
	Retry              ai.RetryPolicy
	EstimateTTL        time.Duration
	// WriteTimeout bounds each store write made after a provider call.
	WriteTimeout time.Duration
}

// Service implements the evaluation operations. Runs execute in background
// goroutines owned by the Service; Shutdown stops them.
type Service struct {
	store     store.Store
	cache     cache.Cache
	images    imagestore.Loader
	providers ProviderFactory
	catalog   *pricing.Catalog
	metrics   *telemetry.Metrics
	opts      Options

	base     context.Context
	stopAll  context.CancelCauseFunc
	mu       sync.Mutex
	runs     map[uuid.UUID]*runHandle
	inflight sync.WaitGroup
}

type runHandle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewService creates a Service.
func NewService(d Deps, opts Options) *Service {
	if opts.EstimateTTL <= 0 {
		opts.EstimateTTL = DefaultEstimateTTL
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.Heuristic.CharsPerToken <= 0 {
		opts.Heuristic.CharsPerToken = 4
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Service{
		store:     d.Store,
		cache:     d.Cache,
		images:    d.Images,
		providers: d.Providers,
		catalog:   d.Catalog,
		metrics:   d.Metrics,
		opts:      opts,
		base:      base,
		stopAll:   stop,
		runs:      make(map[uuid.UUID]*runHandle),
	}
}

// plan is everything a run or an estimate needs, loaded and validated.
type plan struct {
	eval    *models.Evaluation
	dataset *models.Dataset
	project *models.Project
	model   *models.ModelConfig
	pricing models.PricingConfig
	source  string
	steps   []models.PromptStep
	images  []*models.Image
}

// loadPlan reads the evaluation's collaborators. Pending evaluations use the
// live model config; started ones use their snapshot.
func (s *Service) loadPlan(ctx context.Context, ev *models.Evaluation) (*plan, error) {
	p := &plan{eval: ev, steps: ev.Steps()}

	ds, err := s.store.GetDataset(ctx, ev.DatasetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid(CodeMissingReference, fmt.Errorf("dataset %s not found", ev.DatasetID))
		}
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	p.dataset = ds

	proj, err := s.store.GetProject(ctx, ds.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid(CodeMissingReference, fmt.Errorf("project %s not found", ds.ProjectID))
		}
		return nil, fmt.Errorf("loading project: %w", err)
	}
	p.project = proj

	if ev.Status != models.EvaluationStatusPending && ev.ModelSnapshot != nil {
		p.model = ev.ModelSnapshot
	} else {
		mc, err := s.store.GetModelConfig(ctx, ev.ModelConfigID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, invalid(CodeMissingReference, fmt.Errorf("model config %s not found", ev.ModelConfigID))
			}
			return nil, fmt.Errorf("loading model config: %w", err)
		}
		p.model = mc
	}

	pr, source, err := s.catalog.Resolve(p.model)
	if err != nil {
		return nil, invalid(CodeNoPricing, err)
	}
	if err := pr.Validate(); err != nil {
		return nil, invalid(CodeInvalidPricing, err)
	}
	p.pricing, p.source = pr, source

	imgs, err := s.store.ListImages(ctx, ev.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	for _, img := range imgs {
		if img.ProcessingStatus != models.ImageStatusFailed {
			p.images = append(p.images, img)
		}
	}
	return p, nil
}

func (p *plan) imageIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p.images))
	for i, img := range p.images {
		ids[i] = img.ID
	}
	return ids
}

func (p *plan) imageIndex() map[uuid.UUID]*models.Image {
	idx := make(map[uuid.UUID]*models.Image, len(p.images))
	for _, img := range p.images {
		idx[img.ID] = img
	}
	return idx
}

// Start validates a pending evaluation, claims it and launches the run in the
// background. Validation problems come back as *ValidationError and leave the
// evaluation pending.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.Evaluation, error) {
	ev, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status != models.EvaluationStatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPending, ev.Status)
	}

	p, err := s.loadPlan(ctx, ev)
	if err != nil {
		return nil, err
	}
	if err := prompt.Validate(p.steps); err != nil {
		return nil, invalid(CodeInvalidPrompt, err)
	}
	if err := ev.Selection.Validate(); err != nil {
		return nil, invalid(CodeInvalidSelection, err)
	}

	snapshot := *p.model
	snapshot.Pricing = &p.pricing
	provider, err := s.providers(&snapshot)
	if err != nil {
		return nil, invalid(CodeProvider, err)
	}

	var seed int64
	var seedPtr *int64
	if isRandom(ev.Selection.Mode) {
		if ev.SelectionSeed != nil {
			seed = *ev.SelectionSeed
		} else {
			seed = selection.NewSeed()
		}
		seedPtr = &seed
	}
	sel, err := selection.Resolve(p.imageIDs(), ev.Selection, seed)
	if err != nil {
		if errors.Is(err, selection.ErrEmptySelection) {
			return nil, invalid(CodeEmptySelection, err)
		}
		return nil, invalid(CodeInvalidSelection, err)
	}

	idx := p.imageIndex()
	sizes := make([]models.ImageSize, len(sel.IDs))
	for i, imgID := range sel.IDs {
		sizes[i] = sizeOf(idx[imgID])
	}
	est := s.opts.Heuristic.Estimate(p.pricing, p.renderedSteps(), sizes, len(sizes))

	claimed, err := s.store.ClaimEvaluation(ctx, id, store.EvaluationClaim{
		SelectedImageIDs: sel.IDs,
		Seed:             seedPtr,
		Warnings:         sel.Warnings,
		ModelSnapshot:    &snapshot,
		EstimatedCost:    est.Total,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: claimed by another request", ErrNotPending)
		}
		return nil, fmt.Errorf("claiming evaluation: %w", err)
	}

	slog.Info("evaluation started",
		"evaluation_id", id,
		"images", claimed.TotalImages,
		"provider", provider.Name(),
		"model", provider.Model(),
		"concurrency", snapshot.EffectiveConcurrency(s.opts.DefaultConcurrency),
		"estimated_cost", est.Total,
	)
	s.cacheProgress(ctx, claimed.ID, progressOf(claimed))

	p.eval = claimed
	p.model = &snapshot
	s.launch(p, provider, idx)
	return claimed, nil
}

func isRandom(m models.SelectionMode) bool {
	return m == models.SelectionRandomCount || m == models.SelectionRandomPercent
}

func sizeOf(img *models.Image) models.ImageSize {
	if img == nil {
		return models.ImageSize{}
	}
	return models.ImageSize{Width: img.Width, Height: img.Height}
}

func (s *Service) launch(p *plan, provider models.ModelProvider, idx map[uuid.UUID]*models.Image) {
	ctx, cancel := context.WithCancelCause(s.base)
	h := &runHandle{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[p.eval.ID] = h
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer close(h.done)
		defer func() {
			s.mu.Lock()
			delete(s.runs, p.eval.ID)
			s.mu.Unlock()
			cancel(nil)
		}()
		s.execute(ctx, p, provider, idx)
	}()
}

// Cancel stops an evaluation. A pending one fails immediately; a running one
// stops scheduling images and fails once in-flight images finish. Results
// already written are kept.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	ev, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return err
	}

	switch ev.Status {
	case models.EvaluationStatusPending:
		err := s.store.UpdateEvaluationStatus(ctx, id, models.EvaluationStatusFailed,
			store.WithErrorMessage(models.CancelledMessage))
		if err == nil {
			slog.Info("pending evaluation cancelled", "evaluation_id", id)
			return nil
		}
		if !errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("cancelling evaluation: %w", err)
		}
		// claimed concurrently; fall through to the running case
	case models.EvaluationStatusCompleted, models.EvaluationStatusFailed:
		return fmt.Errorf("%w: status is %s", ErrAlreadyDone, ev.Status)
	}

	s.mu.Lock()
	h, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotOwned
	}
	h.cancel(errCancelled)
	slog.Info("evaluation cancellation requested", "evaluation_id", id)
	return nil
}

// Get returns the evaluation. While running, counters come from the progress
// cache when it is ahead of the database.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Evaluation, error) {
	ev, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status != models.EvaluationStatusRunning || s.cache == nil {
		return ev, nil
	}
	snap, ok, err := s.cache.GetProgress(ctx, id)
	if err != nil {
		slog.Warn("progress cache read failed", "evaluation_id", id, "error", err)
		return ev, nil
	}
	if ok && snap.ProcessedImages > ev.ProcessedImages {
		ev.ProcessedImages = snap.ProcessedImages
		ev.ScoredImages = snap.ScoredImages
		ev.CorrectImages = snap.CorrectImages
		ev.Progress = snap.Progress
		ev.Accuracy = snap.Accuracy
		ev.ActualCost = snap.ActualCost
	}
	return ev, nil
}

// Progress returns the counter snapshot, from the cache when present.
func (s *Service) Progress(ctx context.Context, id uuid.UUID) (*models.EvaluationProgress, error) {
	if s.cache != nil {
		snap, ok, err := s.cache.GetProgress(ctx, id)
		if err != nil {
			slog.Warn("progress cache read failed", "evaluation_id", id, "error", err)
		} else if ok {
			return snap, nil
		}
	}
	ev, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	return progressOf(ev), nil
}

// Results pages through an evaluation's per-image results.
func (s *Service) Results(ctx context.Context, id uuid.UUID, filter models.ResultFilter, skip, limit int) ([]*models.EvaluationResult, int, error) {
	if filter == "" {
		filter = models.FilterAll
	}
	if !filter.Valid() {
		return nil, 0, invalid(CodeInvalidFilter, fmt.Errorf("%w: filter must be all, correct or incorrect", ErrInvalidRequest))
	}
	if skip < 0 || limit < 0 {
		return nil, 0, invalid(CodeInvalidFilter, fmt.Errorf("%w: skip and limit must not be negative", ErrInvalidRequest))
	}
	if _, err := s.store.GetEvaluation(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.store.ListResults(ctx, store.ResultFilter{
		EvaluationID: id,
		Filter:       filter,
		Skip:         skip,
		Limit:        limit,
	})
}

// Resample draws a new seed for a pending random-sample evaluation.
func (s *Service) Resample(ctx context.Context, id uuid.UUID) (int64, error) {
	seed := selection.NewSeed()
	if err := s.store.ResampleEvaluation(ctx, id, seed); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return 0, fmt.Errorf("%w: only pending evaluations can be re-sampled", ErrNotPending)
		}
		return 0, err
	}
	slog.Info("evaluation re-sampled", "evaluation_id", id, "seed", seed)
	return seed, nil
}

// Wait blocks until the local run of id finishes, or returns immediately when
// there is none.
func (s *Service) Wait(id uuid.UUID) {
	s.mu.Lock()
	h, ok := s.runs[id]
	s.mu.Unlock()
	if ok {
		<-h.done
	}
}

// Shutdown interrupts every local run and waits for them to record a final status.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopAll(errShutdown)
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) cacheProgress(ctx context.Context, id uuid.UUID, p *models.EvaluationProgress) {
	if s.cache == nil || p == nil {
		return
	}
	if err := s.cache.SetProgress(ctx, id, *p, cache.ProgressTTL); err != nil {
		slog.Warn("progress cache write failed", "evaluation_id", id, "error", err)
	}
}

func progressOf(e *models.Evaluation) *models.EvaluationProgress {
	return &models.EvaluationProgress{
		Status:          e.Status,
		TotalImages:     e.TotalImages,
		ProcessedImages: e.ProcessedImages,
		ScoredImages:    e.ScoredImages,
		CorrectImages:   e.CorrectImages,
		Progress:        e.Progress,
		Accuracy:        e.Accuracy,
		ActualCost:      e.ActualCost,
	}
}
