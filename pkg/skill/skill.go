// Package skill resolves skill identifiers to prompt templates and generation
// parameters.
package skill

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/zen-systems/quorum/pkg/adapter"
)

// Skill is a named prompt template plus its output contract and default
// generation parameters.
type Skill struct {
	ID               string              `yaml:"id"`
	Description      string              `yaml:"description,omitempty"`
	System           string              `yaml:"system"`
	Template         string              `yaml:"template"`
	OutputSchema     string              `yaml:"output_schema,omitempty"`
	PreferredBackend adapter.BackendType `yaml:"preferred_backend"`
	MaxOutputTokens  int                 `yaml:"max_output_tokens,omitempty"`
	Temperature      float64             `yaml:"temperature"`
	Timeout          time.Duration       `yaml:"timeout,omitempty"`
}

// Request renders the skill with vars and returns the generation request.
func (s Skill) Request(vars map[string]any) adapter.GenerationRequest {
	return adapter.GenerationRequest{
		System:          s.System,
		Prompt:          Render(s.Template, vars),
		OutputSchema:    s.OutputSchema,
		MaxOutputTokens: s.MaxOutputTokens,
		Temperature:     s.Temperature,
		Timeout:         s.Timeout,
	}
}

func (s Skill) validate() error {
	if s.ID == "" {
		return fmt.Errorf("skill is missing an id")
	}
	if s.Template == "" {
		return fmt.Errorf("skill %s has an empty template", s.ID)
	}
	if s.PreferredBackend == "" {
		return fmt.Errorf("skill %s has no preferred backend", s.ID)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("skill %s temperature %.2f out of range", s.ID, s.Temperature)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render substitutes every {{key}} in template with vars[key]. Placeholders
// without a matching key are left verbatim. Strings are inserted as-is; any
// other value is rendered as indented JSON.
func Render(template string, vars map[string]any) string {
	if len(vars) == 0 {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		value, ok := vars[key]
		if !ok {
			return match
		}
		return stringify(value)
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
