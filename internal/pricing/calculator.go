// Package pricing turns token counts and image dimensions into dollar costs.
// Every function here is pure; the estimator and the run accumulator share them.
package pricing

import (
	"math"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

const (
	tileSize        = 512
	tileBaseTokens  = 85
	tileTokens      = 170
	tileFitEdge     = 2048
	tileShortSide   = 768
	pixelLongEdge   = 1568
	pixelMaxArea    = 1_150_000
	pixelsPerToken  = 750
	perMillion      = 1_000_000
	roundingDecimal = 1e6
)

// Usage is what was sent to and returned by a model. Images holds one entry
// per image upload, so an image sent by three chain steps appears three times.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Images       []models.ImageSize
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.Images = append(u.Images, o.Images...)
}

// Breakdown is the cost of one Usage under one PricingConfig.
type Breakdown struct {
	TextCost       float64
	ImageCost      float64
	ImageTokens    int64
	ImagesBilled   int64
	DiscountAmount float64
	Total          float64
}

// Calculate prices u under p. The total is discounted and rounded to 6 decimals.
func Calculate(p models.PricingConfig, u Usage) Breakdown {
	b := Breakdown{
		TextCost:     TextCost(p, u.InputTokens, u.OutputTokens),
		ImagesBilled: int64(len(u.Images)),
	}
	for _, sz := range u.Images {
		b.ImageTokens += ImageTokens(p.ImagePriceMode, sz)
	}
	if p.ImagePriceMode == models.ImagePerImage {
		b.ImageCost = float64(b.ImagesBilled) * p.ImagePriceVal
	} else {
		b.ImageCost = float64(b.ImageTokens) / perMillion * p.InputPricePer1M
	}

	subtotal := b.TextCost + b.ImageCost
	b.Total = Round(subtotal * (1 - p.DiscountPercent/100))
	b.DiscountAmount = Round(subtotal - b.Total)
	b.TextCost = Round(b.TextCost)
	b.ImageCost = Round(b.ImageCost)
	return b
}

// TextCost is the undiscounted token cost.
func TextCost(p models.PricingConfig, inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/perMillion*p.InputPricePer1M +
		float64(outputTokens)/perMillion*p.OutputPricePer1M
}

// ImageTokens returns the input-token equivalent of one image. per_image
// pricing is not token based and always yields zero.
func ImageTokens(mode models.ImagePriceMode, sz models.ImageSize) int64 {
	switch mode {
	case models.ImagePerTile:
		return TileTokens(sz.Width, sz.Height)
	case models.ImagePerToken:
		return PixelTokens(sz.Width, sz.Height)
	default:
		return 0
	}
}

// TileTokens applies the OpenAI high-detail formula: fit within 2048x2048,
// shrink so the short side is at most 768, then 85 + 170 per 512px tile.
// Unknown dimensions cost the base 85 tokens.
func TileTokens(width, height int) int64 {
	if width <= 0 || height <= 0 {
		return tileBaseTokens
	}
	w, h := float64(width), float64(height)
	if long := math.Max(w, h); long > tileFitEdge {
		s := tileFitEdge / long
		w, h = w*s, h*s
	}
	if short := math.Min(w, h); short > tileShortSide {
		s := tileShortSide / short
		w, h = w*s, h*s
	}
	tiles := math.Ceil(w/tileSize) * math.Ceil(h/tileSize)
	return tileBaseTokens + tileTokens*int64(tiles)
}

// PixelTokens applies the pixel-ratio approximation w*h/750 after resizing to
// at most 1568px on the long edge and 1.15 megapixels.
// Unknown dimensions cost nothing.
func PixelTokens(width, height int) int64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	w, h := float64(width), float64(height)
	if long := math.Max(w, h); long > pixelLongEdge {
		s := pixelLongEdge / long
		w, h = math.Floor(w*s), math.Floor(h*s)
	}
	if area := w * h; area > pixelMaxArea {
		s := math.Sqrt(pixelMaxArea / area)
		w, h = math.Floor(w*s), math.Floor(h*s)
	}
	return int64(math.Ceil(w * h / pixelsPerToken))
}

// Round rounds v to 6 decimal places.
func Round(v float64) float64 {
	return math.Round(v*roundingDecimal) / roundingDecimal
}
