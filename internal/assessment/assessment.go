// Package assessment loads the assessment definition used to verify
// scanned pages: the public magic code, the paper/page layout, the
// question-to-page mapping, and the version assigned to each paper.
package assessment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MagicCodeLength is the length of the public verification code embossed
// in every ordinary QR payload.
const MagicCodeLength = 5

// Spec is the assessment definition.
type Spec struct {
	Name          string `json:"name"`
	MagicCode     string `json:"magic_code"`
	Papers        int    `json:"papers"`
	PagesPerPaper int    `json:"pages_per_paper"`
	Questions     int    `json:"questions"`

	// QuestionPages maps question index (1-based) to the fixed pages it
	// occupies.
	QuestionPages map[string][]int `json:"question_pages"`

	// Versions maps paper number (as a decimal string) to the version
	// printed on that paper. Papers absent from the map use version 1.
	Versions map[string]int `json:"versions,omitempty"`
}

// specSchema validates the raw assessment document before decoding.
var specSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "magic_code", "papers", "pages_per_paper", "questions", "question_pages"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "magic_code": {"type": "string", "pattern": "^[0-9]{5}$"},
    "papers": {"type": "integer", "minimum": 1},
    "pages_per_paper": {"type": "integer", "minimum": 1},
    "questions": {"type": "integer", "minimum": 1},
    "question_pages": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {"type": "integer", "minimum": 1},
        "minItems": 1
      }
    },
    "versions": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 1}
    }
  },
  "additionalProperties": false
}`)

// Load reads, validates, and decodes an assessment spec document.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assessment spec: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes an assessment spec document.
func Parse(data []byte) (*Spec, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("assessment.json", bytes.NewReader(specSchema)); err != nil {
		return nil, fmt.Errorf("failed to load assessment schema: %w", err)
	}
	schema, err := compiler.Compile("assessment.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile assessment schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("assessment spec is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("assessment spec does not match schema: %w", err)
	}

	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode assessment spec: %w", err)
	}

	if err := spec.check(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// check verifies cross-field constraints the schema cannot express.
func (s *Spec) check() error {
	for q, pages := range s.QuestionPages {
		for _, p := range pages {
			if p > s.PagesPerPaper {
				return fmt.Errorf("question %s references page %d beyond pages_per_paper %d", q, p, s.PagesPerPaper)
			}
		}
	}
	for paper, v := range s.Versions {
		if v < 1 {
			return fmt.Errorf("paper %s has invalid version %d", paper, v)
		}
	}
	return nil
}

// Version returns the version printed on a given paper.
func (s *Spec) Version(paper int) int {
	if v, ok := s.Versions[fmt.Sprintf("%d", paper)]; ok {
		return v
	}
	return 1
}

// ValidPaper reports whether a paper number exists in this assessment.
func (s *Spec) ValidPaper(paper int) bool {
	return paper >= 1 && paper <= s.Papers
}

// ValidPage reports whether a page number exists in this assessment.
func (s *Spec) ValidPage(page int) bool {
	return page >= 1 && page <= s.PagesPerPaper
}

// ValidQuestion reports whether a question index exists in this assessment.
// Index 0 is the "do not mark" sentinel and is always valid.
func (s *Spec) ValidQuestion(q int) bool {
	return q >= 0 && q <= s.Questions
}

// AllQuestions returns every question index in ascending order.
func (s *Spec) AllQuestions() []int {
	qs := make([]int, 0, s.Questions)
	for q := 1; q <= s.Questions; q++ {
		qs = append(qs, q)
	}
	sort.Ints(qs)
	return qs
}
