package pricing_test

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/visionbench/internal/pricing"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestHeuristic_StepTokens(t *testing.T) {
	h := pricing.Heuristic{CharsPerToken: 4, ExpectedOutputTokens: 50}
	steps := []models.PromptStep{
		{SystemMessage: strings.Repeat("a", 10), PromptText: strings.Repeat("b", 7)},
		{PromptText: strings.Repeat("c", 8)},
	}
	in, out := h.StepTokens(steps)
	// ceil(17/4) + ceil(8/4)
	assert.Equal(t, int64(7), in)
	assert.Equal(t, int64(100), out)
}

func TestHeuristic_EstimateExactSum(t *testing.T) {
	h := pricing.Heuristic{CharsPerToken: 4, ExpectedOutputTokens: 50}
	p := tokenPricing(models.ImagePerTile, 0, 0)
	steps := []models.PromptStep{{PromptText: "Is there a cat in this picture?"}}
	pool := []models.ImageSize{{Width: 512, Height: 512}, {Width: 1024, Height: 1024}}

	est := h.Estimate(p, steps, pool, len(pool))

	var want float64
	for _, sz := range pool {
		in, out := h.StepTokens(steps)
		want += pricing.Calculate(p, pricing.Usage{InputTokens: in, OutputTokens: out, Images: []models.ImageSize{sz}}).Total
	}
	assert.InDelta(t, pricing.Round(want), est.Total, 1e-9)
	assert.Equal(t, 2, est.ImageCount)
	assert.InDelta(t, (255.0+765.0)/2, est.ImageTokensPerImage, 1e-9)
}

func TestHeuristic_EstimateScalesAverageForSamples(t *testing.T) {
	h := pricing.Heuristic{CharsPerToken: 4, ExpectedOutputTokens: 10}
	p := tokenPricing(models.ImagePerImage, 0.01, 0)
	steps := []models.PromptStep{{PromptText: "q"}, {PromptText: "q2"}}
	pool := make([]models.ImageSize, 10)

	est := h.Estimate(p, steps, pool, 4)
	assert.Equal(t, 4, est.ImageCount)
	assert.InDelta(t, est.AvgCostPerImage*4, est.Total, 1e-6)
	// two steps bill the image twice
	assert.InDelta(t, 0.02, est.ImageCostPerImage, 1e-9)
}

func TestHeuristic_EstimateIdempotent(t *testing.T) {
	h := pricing.Heuristic{CharsPerToken: 4, ExpectedOutputTokens: 50}
	p := tokenPricing(models.ImagePerToken, 0, 15)
	steps := []models.PromptStep{{SystemMessage: "sys", PromptText: "prompt"}}
	pool := []models.ImageSize{{Width: 1920, Height: 1080}, {Width: 640, Height: 480}}

	assert.Equal(t, h.Estimate(p, steps, pool, 2), h.Estimate(p, steps, pool, 2))
}

func TestHeuristic_EstimateEmpty(t *testing.T) {
	h := pricing.Heuristic{CharsPerToken: 4}
	est := h.Estimate(tokenPricing(models.ImagePerImage, 1, 0), nil, nil, 0)
	assert.Zero(t, est.Total)
}
