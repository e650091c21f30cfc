// Package catalog holds the static, ordered PMTI question set.
//
// The catalog is decoded once from questions.yaml and never mutated, so every
// accessor is safe for concurrent use.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultQuestions []byte

type Role string

const (
	RoleUser1 Role = "user1"
	RoleUser2 Role = "user2"
)

type QuestionType string

const (
	QuestionTypeIndividual          QuestionType = "individual"
	QuestionTypeCooperativeFlexible QuestionType = "cooperative_flexible"
)

type ScoreWeights struct {
	Communication float64 `yaml:"communication" json:"communication"`
	Adventure     float64 `yaml:"adventure" json:"adventure"`
	Values        float64 `yaml:"values" json:"values"`
}

type Option struct {
	ID     string       `yaml:"id" json:"id"`
	Text   string       `yaml:"text" json:"text"`
	Scores ScoreWeights `yaml:"scores" json:"scores"`
}

type Perspective struct {
	Question string `yaml:"question" json:"question"`
	Context  string `yaml:"context,omitempty" json:"context,omitempty"`
}

type Graphic struct {
	DefaultURL string            `yaml:"defaultUrl" json:"defaultUrl"`
	OptionURLs map[string]string `yaml:"optionUrls,omitempty" json:"optionUrls,omitempty"`
}

type Question struct {
	ID           string               `yaml:"questionId" json:"questionId"`
	Type         QuestionType         `yaml:"type" json:"type"`
	Order        int                  `yaml:"order" json:"order"`
	Category     string               `yaml:"category,omitempty" json:"category,omitempty"`
	Storyline    string               `yaml:"storyline" json:"storyline"`
	Perspectives map[Role]Perspective `yaml:"perspectives" json:"perspectives"`
	Options      []Option             `yaml:"options" json:"options"`
	Graphic      *Graphic             `yaml:"graphic,omitempty" json:"graphic,omitempty"`
}

// Perspective returns the question text shown to the given role.
func (q Question) Perspective(role Role) Perspective {
	return q.Perspectives[role]
}

func (q Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

type Catalog struct {
	ordered []Question
	byID    map[string]int
}

type file struct {
	Questions []Question `yaml:"questions"`
}

// Load decodes and validates a YAML question set.
func Load(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if len(f.Questions) == 0 {
		return nil, errors.New("catalog has no questions")
	}

	ordered := make([]Question, len(f.Questions))
	copy(ordered, f.Questions)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Order < ordered[b].Order
	})

	byID := make(map[string]int, len(ordered))
	for i, q := range ordered {
		if q.ID == "" {
			return nil, fmt.Errorf("question at position %d has no id", i)
		}
		if _, dup := byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		if n := len(q.Options); n < 2 || n > 4 {
			return nil, fmt.Errorf("question %s: expected 2-4 options, got %d", q.ID, n)
		}
		seen := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			if o.ID == "" || seen[o.ID] {
				return nil, fmt.Errorf("question %s: invalid or duplicate option id %q", q.ID, o.ID)
			}
			seen[o.ID] = true
		}
		for _, role := range []Role{RoleUser1, RoleUser2} {
			if q.Perspectives[role].Question == "" {
				return nil, fmt.Errorf("question %s: missing %s perspective", q.ID, role)
			}
		}
		byID[q.ID] = i
	}

	return &Catalog{ordered: ordered, byID: byID}, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded question set. It panics if the embedded file is
// invalid, which can only happen at build time.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(defaultQuestions)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded questions: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func (c *Catalog) QuestionByID(id string) (Question, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Question{}, false
	}
	return c.ordered[i], true
}

// QuestionsInOrder returns a copy sorted ascending by Order.
func (c *Catalog) QuestionsInOrder() []Question {
	out := make([]Question, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Catalog) TotalQuestions() int {
	return len(c.ordered)
}

// At returns the question shown at a session's currentQuestionIndex.
func (c *Catalog) At(index int) (Question, bool) {
	if index < 0 || index >= len(c.ordered) {
		return Question{}, false
	}
	return c.ordered[index], true
}

func (c *Catalog) IndexOf(id string) (int, bool) {
	i, ok := c.byID[id]
	return i, ok
}

func (c *Catalog) QuestionsByCategory(category string) []Question {
	var out []Question
	for _, q := range c.ordered {
		if q.Category == category {
			out = append(out, q)
		}
	}
	return out
}

func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range c.ordered {
		if q.Category == "" || seen[q.Category] {
			continue
		}
		seen[q.Category] = true
		out = append(out, q.Category)
	}
	return out
}

// RoleFor assigns user1 to the lexicographically smaller identity. Both
// participants compute the same labels without coordinating.
func RoleFor(self, partner string) Role {
	if self < partner {
		return RoleUser1
	}
	return RoleUser2
}
