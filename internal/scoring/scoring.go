// Package scoring parses model answers and compares them with ground truth.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

var (
	ErrUnparseable         = errors.New("answer does not match the question type")
	ErrUnknownQuestionType = errors.New("unknown question type")
)

// ParseAnswer converts a raw model response into a typed answer: bool for
// binary, int64 for count and string otherwise.
func ParseAnswer(qt models.QuestionType, text string, options []string) (any, error) {
	s := strings.TrimSpace(text)
	switch qt {
	case models.QuestionBinary:
		switch strings.ToLower(strings.TrimSuffix(s, ".")) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%w: expected true or false, got %q", ErrUnparseable, clip(s))
	case models.QuestionMultipleChoice:
		if slices.Contains(options, s) {
			return s, nil
		}
		return nil, fmt.Errorf("%w: %q is not one of the options", ErrUnparseable, clip(s))
	case models.QuestionCount:
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "."), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: expected an integer, got %q", ErrUnparseable, clip(s))
		}
		return n, nil
	case models.QuestionText:
		return text, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownQuestionType, qt)
	}
}

// ParseGroundTruth decodes a stored annotation value. Binary and count labels
// may be stored either as JSON literals or as strings.
func ParseGroundTruth(qt models.QuestionType, raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding ground truth: %w", err)
	}
	switch qt {
	case models.QuestionBinary:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return ParseAnswer(qt, t, nil)
		}
	case models.QuestionCount:
		switch t := v.(type) {
		case float64:
			if t == float64(int64(t)) {
				return int64(t), nil
			}
		case string:
			return ParseAnswer(qt, t, nil)
		}
	case models.QuestionMultipleChoice, models.QuestionText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownQuestionType, qt)
	}
	return nil, fmt.Errorf("%w: ground truth %s", ErrUnparseable, clip(string(raw)))
}

// Score returns nil when there is no usable ground truth, so the image is left
// out of accuracy. An unparseable model answer against real ground truth is
// scored false.
func Score(qt models.QuestionType, answer any, gt *models.Annotation) *bool {
	if !gt.HasAnswer() {
		return nil
	}
	truth, err := ParseGroundTruth(qt, gt.AnswerValue)
	if err != nil {
		return nil
	}
	correct := false
	if answer != nil {
		correct = equal(qt, answer, truth)
	}
	return &correct
}

func equal(qt models.QuestionType, answer, truth any) bool {
	if qt == models.QuestionText {
		a, _ := answer.(string)
		b, _ := truth.(string)
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return answer == truth
}

// Encode marshals a parsed answer for storage; nil stays nil.
func Encode(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func clip(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
