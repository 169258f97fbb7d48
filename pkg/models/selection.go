package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SelectionMode names one variant of SelectionConfig.
type SelectionMode string

const (
	SelectionAll           SelectionMode = "all"
	SelectionRandomCount   SelectionMode = "random_count"
	SelectionRandomPercent SelectionMode = "random_percent"
	SelectionManual        SelectionMode = "manual"
)

// ErrInvalidSelection is wrapped by every SelectionConfig validation failure.
var ErrInvalidSelection = errors.New("invalid selection config")

// SelectionConfig chooses which dataset images an evaluation runs on.
// Exactly the fields of the active Mode are set; decoding rejects anything else.
//
// Persisted shape: {mode, count?, percent?, image_ids?}.
type SelectionConfig struct {
	Mode     SelectionMode `json:"mode"`
	Count    *int          `json:"count,omitempty"`
	Percent  *float64      `json:"percent,omitempty"`
	ImageIDs []uuid.UUID   `json:"image_ids,omitempty"`
}

// SelectAll returns the `all` variant.
func SelectAll() SelectionConfig { return SelectionConfig{Mode: SelectionAll} }

// SelectRandomCount returns the `random_count` variant.
func SelectRandomCount(n int) SelectionConfig {
	return SelectionConfig{Mode: SelectionRandomCount, Count: &n}
}

// SelectRandomPercent returns the `random_percent` variant.
func SelectRandomPercent(p float64) SelectionConfig {
	return SelectionConfig{Mode: SelectionRandomPercent, Percent: &p}
}

// SelectManual returns the `manual` variant.
func SelectManual(ids ...uuid.UUID) SelectionConfig {
	return SelectionConfig{Mode: SelectionManual, ImageIDs: ids}
}

// Validate checks that the config is one well-formed variant.
func (c SelectionConfig) Validate() error {
	switch c.Mode {
	case SelectionAll:
		if c.Count != nil || c.Percent != nil || len(c.ImageIDs) > 0 {
			return fmt.Errorf("%w: mode all takes no parameters", ErrInvalidSelection)
		}
	case SelectionRandomCount:
		if c.Count == nil || *c.Count <= 0 {
			return fmt.Errorf("%w: random_count requires a positive count", ErrInvalidSelection)
		}
		if c.Percent != nil || len(c.ImageIDs) > 0 {
			return fmt.Errorf("%w: random_count takes only count", ErrInvalidSelection)
		}
	case SelectionRandomPercent:
		if c.Percent == nil || *c.Percent <= 0 || *c.Percent > 100 {
			return fmt.Errorf("%w: random_percent requires percent in (0, 100]", ErrInvalidSelection)
		}
		if c.Count != nil || len(c.ImageIDs) > 0 {
			return fmt.Errorf("%w: random_percent takes only percent", ErrInvalidSelection)
		}
	case SelectionManual:
		if len(c.ImageIDs) == 0 {
			return fmt.Errorf("%w: manual requires at least one image id", ErrInvalidSelection)
		}
		if c.Count != nil || c.Percent != nil {
			return fmt.Errorf("%w: manual takes only image_ids", ErrInvalidSelection)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSelection, c.Mode)
	}
	return nil
}

// UnmarshalJSON decodes and validates, so unknown modes never get past the boundary.
func (c *SelectionConfig) UnmarshalJSON(data []byte) error {
	type raw SelectionConfig
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	cfg := SelectionConfig(r)
	if err := cfg.Validate(); err != nil {
		return err
	}
	*c = cfg
	return nil
}
