// Package prompt validates and renders prompt chains. Templates use {{name}}
// placeholders from a fixed namespace; nothing else is interpreted.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

var (
	ErrEmptyChain      = errors.New("prompt chain is empty")
	ErrEmptyPrompt     = errors.New("prompt text is empty")
	ErrUnknownVariable = errors.New("unknown template variable")
	ErrForwardRef      = errors.New("template references a step that has not run yet")
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

var fixed = map[string]bool{
	"question":       true,
	"options":        true,
	"question_type":  true,
	"dataset_name":   true,
	"image_filename": true,
}

// Vars is everything a template can reference for one image.
type Vars struct {
	Question      string
	Options       []string
	QuestionType  models.QuestionType
	DatasetName   string
	ImageFilename string
	// Outputs holds the text of the steps that already ran, in order.
	Outputs []string
}

// Validate checks every step of a chain before a run starts.
func Validate(steps []models.PromptStep) error {
	if len(steps) == 0 {
		return ErrEmptyChain
	}
	for i, s := range steps {
		if strings.TrimSpace(s.PromptText) == "" {
			return fmt.Errorf("step %d: %w", i+1, ErrEmptyPrompt)
		}
		for _, tmpl := range []string{s.SystemMessage, s.PromptText} {
			if err := check(tmpl, i); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}
	return nil
}

func check(tmpl string, index int) error {
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if fixed[name] {
			continue
		}
		if name == "previous" {
			if index == 0 {
				return fmt.Errorf("%w: {{previous}} in the first step", ErrForwardRef)
			}
			continue
		}
		if n, ok := stepNumber(name); ok {
			if n > index {
				return fmt.Errorf("%w: {{%s}}", ErrForwardRef, name)
			}
			continue
		}
		return fmt.Errorf("%w: {{%s}}", ErrUnknownVariable, name)
	}
	return nil
}

// stepNumber parses "stepN" with N >= 1.
func stepNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "step")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Render substitutes v into tmpl. Placeholders that cannot be resolved are
// left as-is; Validate rejects them before a run.
func Render(tmpl string, v Vars) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		switch name {
		case "question":
			return v.Question
		case "options":
			return strings.Join(v.Options, ", ")
		case "question_type":
			return string(v.QuestionType)
		case "dataset_name":
			return v.DatasetName
		case "image_filename":
			return v.ImageFilename
		case "previous":
			if len(v.Outputs) > 0 {
				return v.Outputs[len(v.Outputs)-1]
			}
		default:
			if n, ok := stepNumber(name); ok && n <= len(v.Outputs) {
				return v.Outputs[n-1]
			}
		}
		return m
	})
}
