package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PricingMode is the billing basis of a model. Only token-based billing exists today.
type PricingMode string

const PricingTokenBased PricingMode = "token_based"

// ImagePriceMode selects how image inputs are billed.
type ImagePriceMode string

const (
	// ImagePerImage bills a flat ImagePriceVal per image sent.
	ImagePerImage ImagePriceMode = "per_image"
	// ImagePerTile bills OpenAI-style 512px tiles as input tokens.
	ImagePerTile ImagePriceMode = "per_tile"
	// ImagePerToken bills the pixel-ratio approximation (w*h/750) as input tokens.
	ImagePerToken ImagePriceMode = "per_token"
)

// ErrInvalidPricing is wrapped by every PricingConfig validation failure.
var ErrInvalidPricing = errors.New("invalid pricing config")

// PricingConfig describes how a model is billed. Prices are per one million tokens.
//
// Persisted shape: {mode, input_price_per_1m, output_price_per_1m, image_price_mode,
// image_price_val, discount_percent}.
type PricingConfig struct {
	Mode             PricingMode    `json:"mode"                yaml:"mode"`
	InputPricePer1M  float64        `json:"input_price_per_1m"  yaml:"input_price_per_1m"`
	OutputPricePer1M float64        `json:"output_price_per_1m" yaml:"output_price_per_1m"`
	ImagePriceMode   ImagePriceMode `json:"image_price_mode"    yaml:"image_price_mode"`
	ImagePriceVal    float64        `json:"image_price_val"     yaml:"image_price_val"`
	DiscountPercent  float64        `json:"discount_percent"    yaml:"discount_percent"`
}

// Validate checks modes and numeric ranges.
func (p PricingConfig) Validate() error {
	if p.Mode != PricingTokenBased {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPricing, p.Mode)
	}
	switch p.ImagePriceMode {
	case ImagePerImage, ImagePerTile, ImagePerToken:
	default:
		return fmt.Errorf("%w: unknown image_price_mode %q", ErrInvalidPricing, p.ImagePriceMode)
	}
	if p.InputPricePer1M < 0 || p.OutputPricePer1M < 0 || p.ImagePriceVal < 0 {
		return fmt.Errorf("%w: prices must not be negative", ErrInvalidPricing)
	}
	if p.DiscountPercent < 0 || p.DiscountPercent > 100 {
		return fmt.Errorf("%w: discount_percent must be within [0, 100]", ErrInvalidPricing)
	}
	return nil
}

// UnmarshalJSON decodes and validates.
func (p *PricingConfig) UnmarshalJSON(data []byte) error {
	type raw PricingConfig
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	cfg := PricingConfig(r)
	if err := cfg.Validate(); err != nil {
		return err
	}
	*p = cfg
	return nil
}
