package evaluation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/visionbench/internal/cache"
	"github.com/kiranshivaraju/visionbench/internal/prompt"
	"github.com/kiranshivaraju/visionbench/internal/selection"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// Estimate projects the cost of an evaluation without changing anything.
// Before start it prices the configured selection; random samples use the
// dataset average so the figure does not depend on the seed. After start it
// prices the persisted image list under the run's model snapshot.
func (s *Service) Estimate(ctx context.Context, id uuid.UUID) (*models.CostEstimate, error) {
	ev, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}

	p, err := s.loadPlan(ctx, ev)
	if err != nil {
		return nil, err
	}

	var key string
	if ev.Status == models.EvaluationStatusPending && s.cache != nil {
		key = cache.EstimateKey(id, p.fingerprint())
		if est, ok := s.cachedEstimate(ctx, key); ok {
			return est, nil
		}
	}

	est, err := s.estimate(p)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if data, err := json.Marshal(est); err == nil {
			if err := s.cache.Set(ctx, key, data, s.opts.EstimateTTL); err != nil {
				slog.Warn("estimate cache write failed", "evaluation_id", id, "error", err)
			}
		}
	}
	return est, nil
}

func (s *Service) estimate(p *plan) (*models.CostEstimate, error) {
	ev := p.eval
	idx := p.imageIndex()

	var pool []models.ImageSize
	var count int
	var warnings []string

	switch {
	case ev.Status != models.EvaluationStatusPending:
		for _, imgID := range ev.SelectedImageIDs {
			pool = append(pool, sizeOf(idx[imgID]))
		}
		count = len(pool)
		warnings = ev.Warnings
	case ev.Selection.Mode == models.SelectionManual:
		sel, err := selection.Resolve(p.imageIDs(), ev.Selection, 0)
		if err != nil && !errors.Is(err, selection.ErrEmptySelection) {
			return nil, invalid(CodeInvalidSelection, err)
		}
		for _, imgID := range sel.IDs {
			pool = append(pool, sizeOf(idx[imgID]))
		}
		count = len(pool)
		warnings = sel.Warnings
	default:
		if err := ev.Selection.Validate(); err != nil {
			return nil, invalid(CodeInvalidSelection, err)
		}
		for _, img := range p.images {
			pool = append(pool, sizeOf(img))
		}
		count = selection.Count(len(pool), ev.Selection)
	}
	if count == 0 {
		return nil, invalid(CodeEmptySelection, selection.ErrEmptySelection)
	}

	e := s.opts.Heuristic.Estimate(p.pricing, p.renderedSteps(), pool, count)
	return &models.CostEstimate{
		EstimatedCost:   e.Total,
		ImageCount:      e.ImageCount,
		AvgCostPerImage: e.AvgCostPerImage,
		Details: models.CostEstimateInfo{
			Pricing:              p.pricing,
			PricingSource:        p.source,
			SelectionMode:        ev.Selection.Mode,
			Steps:                len(p.steps),
			InputTokensPerImage:  e.InputTokensPerImage,
			OutputTokensPerImage: e.OutputTokensPerImage,
			ImageTokensPerImage:  e.ImageTokensPerImage,
			TextCostPerImage:     e.TextCostPerImage,
			ImageCostPerImage:    e.ImageCostPerImage,
			Warnings:             warnings,
		},
	}, nil
}

// renderedSteps fills in the project and dataset values so the token
// heuristic counts what is actually sent. Filenames and step outputs are
// unknown before a run and render empty.
func (p *plan) renderedSteps() []models.PromptStep {
	vars := prompt.Vars{
		Question:     p.project.Question,
		Options:      p.project.Options,
		QuestionType: p.project.QuestionType,
		DatasetName:  p.dataset.Name,
		Outputs:      make([]string, len(p.steps)),
	}
	out := make([]models.PromptStep, len(p.steps))
	for i, step := range p.steps {
		out[i] = models.PromptStep{
			SystemMessage: prompt.Render(step.SystemMessage, vars),
			PromptText:    prompt.Render(step.PromptText, vars),
		}
	}
	return out
}

// fingerprint hashes every input an estimate depends on.
func (p *plan) fingerprint() string {
	h := sha256.New()
	ev := p.eval
	fmt.Fprintf(h, "ev:%s:%d\n", ev.Status, ev.UpdatedAt.UnixNano())
	if sel, err := json.Marshal(ev.Selection); err == nil {
		h.Write(sel)
	}
	fmt.Fprintf(h, "\nmodel:%s:%d:%s\n", p.model.ID, p.model.UpdatedAt.UnixNano(), p.source)
	if pr, err := json.Marshal(p.pricing); err == nil {
		h.Write(pr)
	}
	for _, step := range p.renderedSteps() {
		fmt.Fprintf(h, "\nstep:%q:%q", step.SystemMessage, step.PromptText)
	}
	for _, img := range p.images {
		fmt.Fprintf(h, "\nimg:%s:%dx%d", img.ID, img.Width, img.Height)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func (s *Service) cachedEstimate(ctx context.Context, key string) (*models.CostEstimate, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("estimate cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var est models.CostEstimate
	if err := json.Unmarshal(data, &est); err != nil {
		return nil, false
	}
	return &est, true
}

