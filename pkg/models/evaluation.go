package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EvaluationStatusPending   = "pending"
	EvaluationStatusRunning   = "running"
	EvaluationStatusCompleted = "completed"
	EvaluationStatusFailed    = "failed"
)

// CancelledMessage is the error_message of a run stopped by the user.
const CancelledMessage = "evaluation cancelled"

// ResultFilter narrows GetResults.
type ResultFilter string

const (
	FilterAll       ResultFilter = "all"
	FilterCorrect   ResultFilter = "correct"
	FilterIncorrect ResultFilter = "incorrect"
)

// Valid reports whether f is a known filter.
func (f ResultFilter) Valid() bool {
	switch f {
	case FilterAll, FilterCorrect, FilterIncorrect:
		return true
	}
	return false
}

// PromptStep is one element of a prompt chain.
type PromptStep struct {
	SystemMessage string `json:"system_message"`
	PromptText    string `json:"prompt_text"`
}

// Evaluation is a run definition plus its live state.
type Evaluation struct {
	ID               uuid.UUID       `db:"id"                 json:"id"`
	DatasetID        uuid.UUID       `db:"dataset_id"         json:"dataset_id"`
	ModelConfigID    uuid.UUID       `db:"model_config_id"    json:"model_config_id"`
	Name             string          `db:"name"               json:"name"`
	SystemMessage    string          `db:"system_message"     json:"system_message,omitempty"`
	PromptText       string          `db:"prompt_text"        json:"prompt_text,omitempty"`
	PromptChain      []PromptStep    `db:"prompt_chain"       json:"prompt_chain,omitempty"`
	Selection        SelectionConfig `db:"selection_config"   json:"selection_config"`
	SelectionSeed    *int64          `db:"selection_seed"     json:"selection_seed,omitempty"`
	SelectedImageIDs []uuid.UUID     `db:"selected_image_ids" json:"selected_image_ids,omitempty"`
	Warnings         []string        `db:"warnings"           json:"warnings,omitempty"`
	Status           string          `db:"status"             json:"status"`
	Progress         float64         `db:"progress"           json:"progress"`
	TotalImages      int             `db:"total_images"       json:"total_images"`
	ProcessedImages  int             `db:"processed_images"   json:"processed_images"`
	ScoredImages     int             `db:"scored_images"      json:"scored_images"`
	CorrectImages    int             `db:"correct_images"     json:"correct_images"`
	Accuracy         *float64        `db:"accuracy"           json:"accuracy"`
	EstimatedCost    *float64        `db:"estimated_cost"     json:"estimated_cost"`
	ActualCost       float64         `db:"actual_cost"        json:"actual_cost"`
	CostDetails      *CostDetails    `db:"cost_details"       json:"cost_details,omitempty"`
	ModelSnapshot    *ModelConfig    `db:"model_snapshot"     json:"model_snapshot,omitempty"`
	ErrorMessage     *string         `db:"error_message"      json:"error_message,omitempty"`
	StartedAt        *time.Time      `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at"       json:"completed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"         json:"updated_at"`
}

// Steps returns the prompt chain, falling back to the legacy single prompt when the chain is empty.
func (e *Evaluation) Steps() []PromptStep {
	if len(e.PromptChain) > 0 {
		return e.PromptChain
	}
	if e.SystemMessage == "" && e.PromptText == "" {
		return nil
	}
	return []PromptStep{{SystemMessage: e.SystemMessage, PromptText: e.PromptText}}
}

// IsTerminal reports whether the evaluation can no longer change.
func (e *Evaluation) IsTerminal() bool {
	return e.Status == EvaluationStatusCompleted || e.Status == EvaluationStatusFailed
}

// CostDetails is the structured breakdown stored with a run. It is always
// computed from the run's ModelConfig snapshot.
type CostDetails struct {
	Pricing         PricingConfig `json:"pricing"`
	Provider        string        `json:"provider"`
	ModelName       string        `json:"model_name"`
	InputTokens     int64         `json:"input_tokens"`
	OutputTokens    int64         `json:"output_tokens"`
	ImageTokens     int64         `json:"image_tokens"`
	ImagesBilled    int64         `json:"images_billed"`
	TextCost        float64       `json:"text_cost"`
	ImageCost       float64       `json:"image_cost"`
	DiscountAmount  float64       `json:"discount_amount"`
	AvgCostPerImage float64       `json:"avg_cost_per_image"`
	ImagesProcessed int           `json:"images_processed"`
}

// CostEstimate is the read-only pre-run estimate returned by estimate_cost.
type CostEstimate struct {
	EstimatedCost   float64          `json:"estimated_cost"`
	ImageCount      int              `json:"image_count"`
	AvgCostPerImage float64          `json:"avg_cost_per_image"`
	Details         CostEstimateInfo `json:"details"`
}

// CostEstimateInfo explains how an estimate was derived.
type CostEstimateInfo struct {
	Pricing              PricingConfig `json:"pricing"`
	PricingSource        string        `json:"pricing_source"`
	SelectionMode        SelectionMode `json:"selection_mode"`
	Steps                int           `json:"steps"`
	InputTokensPerImage  int64         `json:"input_tokens_per_image"`
	OutputTokensPerImage int64         `json:"output_tokens_per_image"`
	ImageTokensPerImage  float64       `json:"image_tokens_per_image"`
	TextCostPerImage     float64       `json:"text_cost_per_image"`
	ImageCostPerImage    float64       `json:"image_cost_per_image"`
	Warnings             []string      `json:"warnings,omitempty"`
}

// StepResult is the raw outcome of one chain step for one image.
type StepResult struct {
	Step         int    `json:"step"`
	Output       string `json:"output,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	LatencyMS    int64  `json:"latency_ms"`
	Error        string `json:"error,omitempty"`
}

// EvaluationResult is one row per (evaluation, image).
type EvaluationResult struct {
	ID            uuid.UUID       `db:"id"             json:"id"`
	EvaluationID  uuid.UUID       `db:"evaluation_id"  json:"evaluation_id"`
	ImageID       uuid.UUID       `db:"image_id"       json:"image_id"`
	ModelResponse *string         `db:"model_response" json:"model_response"`
	ParsedAnswer  json.RawMessage `db:"parsed_answer"  json:"parsed_answer"`
	GroundTruth   json.RawMessage `db:"ground_truth"   json:"ground_truth"`
	IsCorrect     *bool           `db:"is_correct"     json:"is_correct"`
	LatencyMS     int64           `db:"latency_ms"     json:"latency_ms"`
	InputTokens   int64           `db:"input_tokens"   json:"input_tokens"`
	OutputTokens  int64           `db:"output_tokens"  json:"output_tokens"`
	Cost          float64         `db:"cost"           json:"cost"`
	StepResults   []StepResult    `db:"step_results"   json:"step_results"`
	Error         *string         `db:"error"          json:"error"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"     json:"updated_at"`
}

// EvaluationProgress is the counter snapshot returned by every result write,
// and what the progress cache stores for polling.
type EvaluationProgress struct {
	Status          string   `json:"status"`
	TotalImages     int      `json:"total_images"`
	ProcessedImages int      `json:"processed_images"`
	ScoredImages    int      `json:"scored_images"`
	CorrectImages   int      `json:"correct_images"`
	Progress        float64  `json:"progress"`
	Accuracy        *float64 `json:"accuracy"`
	ActualCost      float64  `json:"actual_cost"`
}
