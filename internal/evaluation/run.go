package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	"github.com/kiranshivaraju/visionbench/internal/imagestore"
	"github.com/kiranshivaraju/visionbench/internal/pricing"
	"github.com/kiranshivaraju/visionbench/internal/prompt"
	"github.com/kiranshivaraju/visionbench/internal/scoring"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

var tracer = otel.Tracer("visionbench/evaluation")

// runState is shared by the workers of one run.
type runState struct {
	*plan
	provider    models.ModelProvider
	index       map[uuid.UUID]*models.Image
	annotations map[uuid.UUID]*models.Annotation

	mu    sync.Mutex
	usage pricing.Usage
	done  int
}

func (r *runState) addUsage(u pricing.Usage) {
	r.mu.Lock()
	r.usage.Add(u)
	r.done++
	r.mu.Unlock()
}

func (r *runState) processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// execute runs a claimed evaluation to a terminal status.
func (s *Service) execute(ctx context.Context, p *plan, provider models.ModelProvider, idx map[uuid.UUID]*models.Image) {
	ev := p.eval
	log := slog.With("evaluation_id", ev.ID)
	ctx, span := tracer.Start(ctx, "evaluation.run")
	span.SetAttributes(
		attribute.String("evaluation.id", ev.ID.String()),
		attribute.Int("evaluation.total_images", ev.TotalImages),
		attribute.String("gen_ai.system", provider.Name()),
		attribute.String("gen_ai.request.model", provider.Model()),
	)
	defer span.End()

	r := &runState{plan: p, provider: provider, index: idx}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("evaluation run panicked", "panic", rec, "stack", string(debug.Stack()))
			s.finish(r, fmt.Errorf("%w: internal error: %v", ErrRunFatal, rec))
		}
	}()

	annotations, err := s.store.GetAnnotations(ctx, ev.SelectedImageIDs)
	if err != nil {
		s.finish(r, fmt.Errorf("%w: loading ground truth: %w", ErrRunFatal, err))
		return
	}
	r.annotations = annotations

	concurrency := p.model.EffectiveConcurrency(s.opts.DefaultConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, imgID := range ev.SelectedImageIDs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("image worker panicked", "image_id", imgID, "panic", rec, "stack", string(debug.Stack()))
					err = fmt.Errorf("%w: internal error: %v", ErrRunFatal, rec)
				}
			}()
			return s.processImage(gctx, r, imgID)
		})
	}
	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil && r.processed() < ev.TotalImages {
		runErr = context.Cause(ctx)
	}
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	s.finish(r, runErr)
}

// finish records the terminal status with the final cost breakdown.
func (s *Service) finish(r *runState, runErr error) {
	ev := r.eval
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	r.mu.Lock()
	usage := r.usage
	processed := r.done
	r.mu.Unlock()

	b := pricing.Calculate(r.pricing, usage)
	details := models.CostDetails{
		Pricing:         r.pricing,
		Provider:        r.model.Provider,
		ModelName:       r.model.ModelName,
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		ImageTokens:     b.ImageTokens,
		ImagesBilled:    b.ImagesBilled,
		TextCost:        b.TextCost,
		ImageCost:       b.ImageCost,
		DiscountAmount:  b.DiscountAmount,
		ImagesProcessed: processed,
	}
	if processed > 0 {
		details.AvgCostPerImage = pricing.Round(b.Total / float64(processed))
	}

	status := models.EvaluationStatusCompleted
	opts := []store.UpdateOption{store.WithCostDetails(details)}
	if runErr != nil {
		status = models.EvaluationStatusFailed
		opts = append(opts, store.WithErrorMessage(failureMessage(runErr)))
	}

	err := s.store.UpdateEvaluationStatus(ctx, ev.ID, status, opts...)
	if err != nil && status == models.EvaluationStatusCompleted && errors.Is(err, store.ErrInvalidTransition) {
		// not every image was recorded; the run cannot complete
		status = models.EvaluationStatusFailed
		err = s.store.UpdateEvaluationStatus(ctx, ev.ID, status,
			store.WithCostDetails(details), store.WithErrorMessage(fmt.Sprintf("run ended with %v", err)))
	}
	if err != nil {
		slog.Error("failed to record final evaluation status",
			"evaluation_id", ev.ID, "status", status, "error", err)
		return
	}

	if final, err := s.store.GetEvaluation(ctx, ev.ID); err == nil {
		s.cacheProgress(ctx, ev.ID, progressOf(final))
	}
	s.metrics.RecordRun(ctx, status)

	if runErr != nil {
		slog.Warn("evaluation failed", "evaluation_id", ev.ID, "processed", processed, "error", runErr)
		return
	}
	slog.Info("evaluation completed", "evaluation_id", ev.ID, "processed", processed, "cost", b.Total)
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, errCancelled):
		return models.CancelledMessage
	case errors.Is(err, errShutdown):
		return errShutdown.Error()
	}
	return strings.TrimPrefix(err.Error(), ErrRunFatal.Error()+": ")
}

// processImage runs the chain for one image and records the result. It returns
// an error only for run-level faults; everything else becomes a per-image error.
// An image interrupted by cancellation is not recorded.
func (s *Service) processImage(ctx context.Context, r *runState, imgID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "evaluation.image")
	span.SetAttributes(attribute.String("image.id", imgID.String()))
	defer span.End()

	res := &models.EvaluationResult{
		ID:           uuid.New(),
		EvaluationID: r.eval.ID,
		ImageID:      imgID,
		StepResults:  []models.StepResult{},
	}
	gt := r.annotations[imgID]
	if gt != nil && !gt.IsSkipped {
		res.GroundTruth = gt.AnswerValue
	}

	img := r.index[imgID]
	var usage pricing.Usage
	var fatal error

	switch data, err := s.loadImage(ctx, img); {
	case err != nil && ctx.Err() != nil:
		return nil
	case err != nil:
		msg := err.Error()
		res.Error = &msg
	default:
		fatal = s.runChain(ctx, r, img, data, res, &usage)
		if fatal == nil && ctx.Err() != nil && res.Error != nil {
			return nil
		}
	}

	if res.Error == nil {
		final := ""
		if n := len(res.StepResults); n > 0 {
			final = res.StepResults[n-1].Output
		}
		res.ModelResponse = &final
		answer, err := scoring.ParseAnswer(r.project.QuestionType, final, r.project.Options)
		if err != nil {
			slog.Debug("unparseable model answer", "evaluation_id", r.eval.ID, "image_id", imgID, "error", err)
		}
		res.ParsedAnswer = scoring.Encode(answer)
		res.IsCorrect = scoring.Score(r.project.QuestionType, answer, gt)
	}
	res.Cost = pricing.Calculate(r.pricing, usage).Total

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()
	progress, err := s.store.RecordResult(writeCtx, res)
	if err != nil {
		return fmt.Errorf("%w: recording result for image %s: %w", ErrRunFatal, imgID, err)
	}
	r.addUsage(usage)
	s.cacheProgress(writeCtx, r.eval.ID, progress)
	s.metrics.RecordImage(writeCtx, outcome(res), res.Cost)

	if fatal != nil {
		span.SetStatus(codes.Error, fatal.Error())
		return fatal
	}
	return nil
}

func (s *Service) loadImage(ctx context.Context, img *models.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("loading image: %w", imagestore.ErrImageNotFound)
	}
	data, err := s.images.Load(ctx, img.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("loading image %s: %w", img.Filename, err)
	}
	return data, nil
}

// runChain calls every step in order, stopping at the first failure. Step
// outputs and token usage are written into res and usage. A run-fatal
// provider error is returned after being recorded on res.
func (s *Service) runChain(ctx context.Context, r *runState, img *models.Image, data []byte, res *models.EvaluationResult, usage *pricing.Usage) error {
	size := models.ImageSize{Width: img.Width, Height: img.Height}
	if size.Width <= 0 || size.Height <= 0 {
		if sz, err := imagestore.Dimensions(data); err == nil {
			size = sz
		}
	}

	vars := prompt.Vars{
		Question:      r.project.Question,
		Options:       r.project.Options,
		QuestionType:  r.project.QuestionType,
		DatasetName:   r.dataset.Name,
		ImageFilename: img.Filename,
	}

	for i, step := range r.steps {
		req := models.InvokeRequest{
			SystemMessage: prompt.Render(step.SystemMessage, vars),
			Prompt:        prompt.Render(step.PromptText, vars),
			Image:         data,
			Temperature:   r.model.Temperature,
			MaxTokens:     r.model.MaxTokens,
		}
		out, err := ai.Invoke(ctx, r.provider, req, s.opts.Retry)
		sr := models.StepResult{
			Step:         i + 1,
			Output:       out.Text,
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
			LatencyMS:    out.LatencyMS,
		}
		res.LatencyMS += out.LatencyMS
		res.InputTokens += out.InputTokens
		res.OutputTokens += out.OutputTokens
		usage.InputTokens += out.InputTokens
		usage.OutputTokens += out.OutputTokens

		if err != nil {
			s.metrics.RecordCall(ctx, r.provider.Name(), r.provider.Model(), "error", out.InputTokens, out.OutputTokens)
			msg := fmt.Sprintf("step %d: %v", i+1, err)
			sr.Error = err.Error()
			res.StepResults = append(res.StepResults, sr)
			res.Error = &msg
			if ctx.Err() == nil && ai.IsRunFatal(err) {
				return fmt.Errorf("%w: %w", ErrRunFatal, err)
			}
			slog.Warn("image step failed",
				"evaluation_id", r.eval.ID, "image_id", img.ID, "step", i+1,
				"attempt", out.Attempts, "error", err)
			return nil
		}

		s.metrics.RecordCall(ctx, r.provider.Name(), r.provider.Model(), "ok", out.InputTokens, out.OutputTokens)
		usage.Images = append(usage.Images, size)
		res.StepResults = append(res.StepResults, sr)
		vars.Outputs = append(vars.Outputs, out.Text)
	}
	return nil
}

func outcome(res *models.EvaluationResult) string {
	switch {
	case res.Error != nil:
		return "error"
	case res.IsCorrect == nil:
		return "unscored"
	case *res.IsCorrect:
		return "correct"
	default:
		return "incorrect"
	}
}

