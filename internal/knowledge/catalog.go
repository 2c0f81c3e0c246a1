// Package knowledge loads and validates the question/gene/factor
// catalog. The catalog is append-only configuration: it is parsed and
// validated once at startup and read-only thereafter, so concurrent
// readers need no synchronization. A malformed catalog prevents the
// process from starting.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/oncorisk-engine/internal/domain"
)

// Gene describes one tracked gene: its population base rate and the
// demographic prior modifiers applied before evidence accumulation.
type Gene struct {
	Symbol   string  `json:"symbol"`
	BaseRate float64 `json:"base_rate"`

	// Modifiers adjust the prior odds when a matching demographic
	// answer is present (ethnicity, age bands). They scale the prior,
	// not the evidence, and contribute no variance.
	Modifiers []PriorModifier `json:"modifiers,omitempty"`
}

// PriorModifier multiplies a gene's prior odds when the referenced
// question was answered with the given value.
type PriorModifier struct {
	QuestionID     string             `json:"question_id"`
	Answer         domain.AnswerValue `json:"answer"`
	OddsMultiplier float64            `json:"odds_multiplier"`
}

// Factor describes one tracked epigenetic factor. Baseline is the
// logistic intercept of the factor's score; answers shift the sum that
// gets squashed into (0,1).
type Factor struct {
	Name       string  `json:"name"`
	Baseline   float64 `json:"baseline"`
	Modifiable bool    `json:"modifiable"`
}

// Document is the on-disk catalog format. Numeric values are swappable
// configuration data, versioned with the document.
type Document struct {
	Version   string            `json:"version"`
	Genes     []Gene            `json:"genes"`
	Factors   []Factor          `json:"factors"`
	Questions []domain.Question `json:"questions"`
}

// Catalog is the validated, immutable knowledge base.
type Catalog struct {
	version   string
	genes     map[string]Gene
	factors   map[string]Factor
	questions map[string]*domain.Question

	// ordered question IDs, for deterministic iteration
	order []string
}

// Load reads and validates a catalog document from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates a catalog document from raw bytes.
func Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(doc)
}

// New builds a Catalog from an in-memory document, failing fast on any
// structural defect.
func New(doc Document) (*Catalog, error) {
	c := &Catalog{
		version:   doc.Version,
		genes:     make(map[string]Gene, len(doc.Genes)),
		factors:   make(map[string]Factor, len(doc.Factors)),
		questions: make(map[string]*domain.Question, len(doc.Questions)),
	}

	for _, g := range doc.Genes {
		if g.Symbol == "" {
			return nil, domain.NewValidationError("gene.symbol", "empty gene symbol", nil)
		}
		if g.BaseRate <= 0 || g.BaseRate >= 1 {
			return nil, domain.NewValidationError("gene.base_rate",
				fmt.Sprintf("base rate for %s must lie strictly inside (0,1)", g.Symbol), g.BaseRate)
		}
		for _, m := range g.Modifiers {
			if m.OddsMultiplier <= 0 {
				return nil, domain.NewValidationError("gene.modifiers",
					fmt.Sprintf("odds multiplier for %s must be > 0", g.Symbol), m.OddsMultiplier)
			}
		}
		if _, dup := c.genes[g.Symbol]; dup {
			return nil, domain.NewValidationError("gene.symbol", "duplicate gene symbol", g.Symbol)
		}
		c.genes[g.Symbol] = g
	}

	for _, f := range doc.Factors {
		if f.Name == "" {
			return nil, domain.NewValidationError("factor.name", "empty factor name", nil)
		}
		if _, dup := c.factors[f.Name]; dup {
			return nil, domain.NewValidationError("factor.name", "duplicate factor name", f.Name)
		}
		c.factors[f.Name] = f
	}

	for i := range doc.Questions {
		q := doc.Questions[i]
		if err := c.validateQuestion(&q); err != nil {
			return nil, err
		}
		if _, dup := c.questions[q.ID]; dup {
			return nil, domain.NewValidationError("question.id", "duplicate question id", q.ID)
		}
		stored := q
		c.questions[q.ID] = &stored
		c.order = append(c.order, q.ID)
	}
	sort.Strings(c.order)

	if err := c.validatePrerequisites(); err != nil {
		return nil, err
	}
	for _, g := range c.genes {
		for _, m := range g.Modifiers {
			if _, ok := c.questions[m.QuestionID]; !ok {
				return nil, domain.NewValidationError("gene.modifiers",
					fmt.Sprintf("gene %s modifier references unknown question", g.Symbol), m.QuestionID)
			}
		}
	}

	return c, nil
}

// validateQuestion checks a single question's structure and references.
func (c *Catalog) validateQuestion(q *domain.Question) error {
	if q.ID == "" {
		return domain.NewValidationError("question.id", "empty question id", nil)
	}
	if q.Text == "" {
		return domain.NewValidationError("question.text",
			fmt.Sprintf("question %s has no text", q.ID), nil)
	}
	if !q.Category.IsValid() {
		return domain.NewValidationError("question.category",
			fmt.Sprintf("question %s has unknown category", q.ID), string(q.Category))
	}
	if !q.Kind.IsValid() {
		return domain.NewValidationError("question.kind",
			fmt.Sprintf("question %s has unknown response kind", q.ID), string(q.Kind))
	}
	if q.Priority < 0 {
		return domain.NewValidationError("question.priority",
			fmt.Sprintf("question %s has negative priority", q.ID), q.Priority)
	}

	switch q.Kind {
	case domain.KindEnumerated:
		if len(q.Choices) < 2 {
			return domain.NewValidationError("question.choices",
				fmt.Sprintf("enumerated question %s needs at least two choices", q.ID), len(q.Choices))
		}
		offered := make(map[string]bool, len(q.Choices))
		for _, ch := range q.Choices {
			offered[ch] = true
		}
		for _, ch := range q.PositiveChoices {
			if !offered[ch] {
				return domain.NewValidationError("question.positive_choices",
					fmt.Sprintf("question %s marks unoffered choice as positive", q.ID), ch)
			}
		}
	case domain.KindNumeric:
		if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
			return domain.NewValidationError("question.min",
				fmt.Sprintf("question %s has min above max", q.ID), *q.Min)
		}
	}

	for _, ga := range q.Genes {
		if _, ok := c.genes[ga.Gene]; !ok {
			return domain.NewValidationError("question.genes",
				fmt.Sprintf("question %s references unknown gene", q.ID), ga.Gene)
		}
		if ga.LRPositive <= 0 || ga.LRNegative <= 0 {
			return domain.NewValidationError("question.genes",
				fmt.Sprintf("question %s has a likelihood ratio <= 0 for %s", q.ID, ga.Gene), ga)
		}
		if ga.Variance < 0 {
			return domain.NewValidationError("question.genes",
				fmt.Sprintf("question %s has negative variance for %s", q.ID, ga.Gene), ga.Variance)
		}
	}
	for _, fa := range q.Factors {
		if _, ok := c.factors[fa.Factor]; !ok {
			return domain.NewValidationError("question.factors",
				fmt.Sprintf("question %s references unknown factor", q.ID), fa.Factor)
		}
	}
	return nil
}

// validatePrerequisites checks reference integrity, answer-shape
// compatibility, and acyclicity of the dependency graph.
func (c *Catalog) validatePrerequisites() error {
	for _, id := range c.order {
		q := c.questions[id]
		for _, p := range q.Prerequisites {
			target, ok := c.questions[p.QuestionID]
			if !ok {
				return domain.NewValidationError("question.prerequisites",
					fmt.Sprintf("question %s depends on unknown question", q.ID), p.QuestionID)
			}
			if p.RequiredAnswer.Kind != target.Kind {
				return domain.NewValidationError("question.prerequisites",
					fmt.Sprintf("question %s requires a %s answer from %s question %s",
						q.ID, p.RequiredAnswer.Kind, target.Kind, target.ID), nil)
			}
			if err := target.ValidateAnswer(p.RequiredAnswer); err != nil {
				return domain.NewValidationError("question.prerequisites",
					fmt.Sprintf("question %s requires an answer %s cannot produce", q.ID, target.ID), err.Error())
			}
		}
	}

	// DFS cycle detection over the prerequisite graph.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(c.questions))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		for _, p := range c.questions[id].Prerequisites {
			switch color[p.QuestionID] {
			case grey:
				return domain.NewValidationError("question.prerequisites",
					"prerequisite cycle detected", id)
			case white:
				if err := visit(p.QuestionID); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range c.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Version returns the catalog document version.
func (c *Catalog) Version() string { return c.version }

// Question returns the catalog entry for an ID.
func (c *Catalog) Question(id string) (*domain.Question, bool) {
	q, ok := c.questions[id]
	return q, ok
}

// Gene returns the catalog entry for a gene symbol.
func (c *Catalog) Gene(symbol string) (Gene, bool) {
	g, ok := c.genes[symbol]
	return g, ok
}

// Factor returns the catalog entry for a factor name.
func (c *Catalog) Factor(name string) (Factor, bool) {
	f, ok := c.factors[name]
	return f, ok
}

// Genes returns all tracked genes ordered by symbol.
func (c *Catalog) Genes() []Gene {
	symbols := make([]string, 0, len(c.genes))
	for s := range c.genes {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	out := make([]Gene, len(symbols))
	for i, s := range symbols {
		out[i] = c.genes[s]
	}
	return out
}

// Factors returns all tracked factors ordered by name.
func (c *Catalog) Factors() []Factor {
	names := make([]string, 0, len(c.factors))
	for n := range c.factors {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Factor, len(names))
	for i, n := range names {
		out[i] = c.factors[n]
	}
	return out
}

// QuestionsFor returns the candidate pool for a questionnaire type,
// ordered by question ID for deterministic selection. Genetic screening
// pools gene-associated plus family/medical-history questions;
// epigenetic assessment pools factor-associated plus
// lifestyle/environmental questions; comprehensive pools everything.
func (c *Catalog) QuestionsFor(t domain.QuestionnaireType) []*domain.Question {
	var pool []*domain.Question
	for _, id := range c.order {
		q := c.questions[id]
		if c.inPool(q, t) {
			pool = append(pool, q)
		}
	}
	return pool
}

func (c *Catalog) inPool(q *domain.Question, t domain.QuestionnaireType) bool {
	switch t {
	case domain.Comprehensive:
		return true
	case domain.GeneticScreening:
		return q.HasGeneEvidence() ||
			q.Category == domain.CategoryFamilyHistory ||
			q.Category == domain.CategoryMedicalHistory
	case domain.EpigeneticAssessment:
		return q.HasFactorEvidence() ||
			q.Category == domain.CategoryLifestyle ||
			q.Category == domain.CategoryEnvironmental
	default:
		return false
	}
}

// DependenciesSatisfied reports whether every prerequisite of the
// question is met by the answers recorded so far.
func (c *Catalog) DependenciesSatisfied(q *domain.Question, answers map[string]domain.AnswerValue) bool {
	for _, p := range q.Prerequisites {
		got, answered := answers[p.QuestionID]
		if !answered || !got.Equal(p.RequiredAnswer) {
			return false
		}
	}
	return true
}

// PrerequisitesBlocked reports whether any prerequisite can no longer be
// satisfied: its question was answered with a different value, or was
// itself skipped. Blocked questions are marked skipped rather than left
// pending.
func (c *Catalog) PrerequisitesBlocked(q *domain.Question, answers map[string]domain.AnswerValue, skipped map[string]bool) bool {
	for _, p := range q.Prerequisites {
		if skipped[p.QuestionID] {
			return true
		}
		if got, answered := answers[p.QuestionID]; answered && !got.Equal(p.RequiredAnswer) {
			return true
		}
	}
	return false
}
