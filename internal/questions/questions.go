// Package questions defines the question-set model and its structural
// validation. The coordination core treats a validated set as opaque except
// for id, type, and options.
package questions

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schema/questionset.schema.json
var schemaFS embed.FS

// Question types.
const (
	TypeSingle = "single"
	TypeMulti  = "multi"
	TypeText   = "text"
	TypeImage  = "image"
)

type Question struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required,omitempty"`
}

// Set is a validated question set.
type Set struct {
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// ByID returns the question with the given id, or nil.
func (s *Set) ByID(id string) *Question {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i]
		}
	}
	return nil
}

var compileOnce = sync.OnceValues(func() (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schema/questionset.schema.json")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schema: %w", err)
	}
	schema, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compiling question-set schema: %w", err)
	}
	return schema, nil
})

// Parse validates raw JSON against the question-set schema plus semantic
// rules (ids unique, options present for single/multi) and returns the set.
func Parse(data []byte) (*Set, error) {
	schema, err := compileOnce()
	if err != nil {
		return nil, err
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid question set: not valid JSON")
	}
	result := schema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("invalid question set: %v", result.Errors)
	}

	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing question set: %w", err)
	}

	seen := make(map[string]bool, len(set.Questions))
	for _, q := range set.Questions {
		if seen[q.ID] {
			return nil, fmt.Errorf("invalid question set: duplicate question id %q", q.ID)
		}
		seen[q.ID] = true

		if (q.Type == TypeSingle || q.Type == TypeMulti) && len(q.Options) == 0 {
			return nil, fmt.Errorf("invalid question set: question %q of type %q has no options", q.ID, q.Type)
		}
	}
	return &set, nil
}
