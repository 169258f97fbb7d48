package pricing

import (
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// Heuristic stands in for token counts that are unknown before a run.
type Heuristic struct {
	CharsPerToken        int
	ExpectedOutputTokens int64
}

// StepTokens returns the heuristic input and output tokens for one image
// across all chain steps.
func (h Heuristic) StepTokens(steps []models.PromptStep) (input, output int64) {
	cpt := h.CharsPerToken
	if cpt < 1 {
		cpt = 1
	}
	for _, s := range steps {
		chars := len(s.SystemMessage) + len(s.PromptText)
		input += int64((chars + cpt - 1) / cpt)
		output += h.ExpectedOutputTokens
	}
	return input, output
}

// Estimate is a pre-run cost projection.
type Estimate struct {
	Total                float64
	ImageCount           int
	AvgCostPerImage      float64
	InputTokensPerImage  int64
	OutputTokensPerImage int64
	ImageTokensPerImage  float64
	TextCostPerImage     float64
	ImageCostPerImage    float64
}

// Estimate projects the cost of sending every chain step for count images.
// When count equals len(pool) the per-image costs over pool are summed exactly;
// otherwise the pool average is scaled to count, which keeps random-sample
// estimates independent of which images the seed picks.
func (h Heuristic) Estimate(p models.PricingConfig, steps []models.PromptStep, pool []models.ImageSize, count int) Estimate {
	in, out := h.StepTokens(steps)
	est := Estimate{
		ImageCount:           count,
		InputTokensPerImage:  in,
		OutputTokensPerImage: out,
	}
	if count <= 0 || len(pool) == 0 {
		return est
	}

	var sum, textSum, imageSum float64
	var imageTokens int64
	for _, sz := range pool {
		u := Usage{InputTokens: in, OutputTokens: out}
		for range steps {
			u.Images = append(u.Images, sz)
		}
		b := Calculate(p, u)
		sum += b.Total
		textSum += b.TextCost
		imageSum += b.ImageCost
		imageTokens += b.ImageTokens
	}

	n := float64(len(pool))
	est.AvgCostPerImage = Round(sum / n)
	est.TextCostPerImage = Round(textSum / n)
	est.ImageCostPerImage = Round(imageSum / n)
	est.ImageTokensPerImage = float64(imageTokens) / n
	if count == len(pool) {
		est.Total = Round(sum)
	} else {
		est.Total = Round(sum / n * float64(count))
	}
	return est
}
