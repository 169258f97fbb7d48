package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultConcurrency = 3
	MaxConcurrency     = 100
)

// ModelConfig is a user-defined model endpoint plus decoding and pricing settings.
// A copy is stored on each Evaluation when it starts, so later edits never change a run.
type ModelConfig struct {
	ID          uuid.UUID      `db:"id"          json:"id"`
	Name        string         `db:"name"        json:"name"`
	Provider    string         `db:"provider"    json:"provider"`
	ModelName   string         `db:"model_name"  json:"model_name"`
	Temperature *float64       `db:"temperature" json:"temperature,omitempty"`
	MaxTokens   int64          `db:"max_tokens"  json:"max_tokens"`
	Concurrency int            `db:"concurrency" json:"concurrency"`
	Pricing     *PricingConfig `db:"pricing"     json:"pricing_config,omitempty"`
	CreatedAt   time.Time      `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"  json:"updated_at"`
}

// EffectiveConcurrency clamps Concurrency into [1, MaxConcurrency], using def when unset.
func (m *ModelConfig) EffectiveConcurrency(def int) int {
	c := m.Concurrency
	if c <= 0 {
		c = def
	}
	if c <= 0 {
		c = DefaultConcurrency
	}
	if c > MaxConcurrency {
		c = MaxConcurrency
	}
	return c
}
