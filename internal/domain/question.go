package domain

import "fmt"

// GeneAssociation links a question to a gene hypothesis. A positive
// answer multiplies the gene's running odds by LRPositive, a negative
// answer by LRNegative; a question with no association for a gene
// contributes LR = 1. Variance is the fixed per-question uncertainty of
// log(LR), summed across answered questions for the confidence interval.
type GeneAssociation struct {
	Gene       string  `json:"gene"`
	LRPositive float64 `json:"lr_positive"`
	LRNegative float64 `json:"lr_negative"`
	Variance   float64 `json:"variance"`
}

// FactorAssociation links a question to an epigenetic factor. Weight is
// added to the factor's raw score when the answer is positive; negative
// weights model protective answers.
type FactorAssociation struct {
	Factor string  `json:"factor"`
	Weight float64 `json:"weight"`
}

// Prerequisite gates a question on a prior answer. The prerequisite is
// satisfied once QuestionID has been answered with RequiredAnswer, and
// becomes permanently unsatisfiable when it is answered differently or
// skipped.
type Prerequisite struct {
	QuestionID     string      `json:"question_id"`
	RequiredAnswer AnswerValue `json:"required_answer"`
}

// Question is a single catalog entry. Immutable after load.
type Question struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Category QuestionCategory `json:"category"`
	Kind     ResponseKind     `json:"kind"`

	// Enumerated questions: the legal choices and the subset that counts
	// as positive evidence.
	Choices         []string `json:"choices,omitempty"`
	PositiveChoices []string `json:"positive_choices,omitempty"`

	// Numeric questions: legal range and the positivity threshold
	// (value >= threshold is positive evidence).
	Min               *float64 `json:"min,omitempty"`
	Max               *float64 `json:"max,omitempty"`
	PositiveThreshold float64  `json:"positive_threshold,omitempty"`

	Genes         []GeneAssociation   `json:"genes,omitempty"`
	Factors       []FactorAssociation `json:"factors,omitempty"`
	Prerequisites []Prerequisite      `json:"prerequisites,omitempty"`

	// Priority is the static selection weight used to front-load
	// high-yield questions and break information-gain ties.
	Priority float64 `json:"priority"`
}

// ValidateAnswer checks an answer value against the question's declared
// response kind and constraints. Returns nil when the answer is legal.
func (q *Question) ValidateAnswer(v AnswerValue) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if v.Kind != q.Kind {
		return NewValidationError("answer.kind",
			fmt.Sprintf("question %s expects %s answers", q.ID, q.Kind), string(v.Kind))
	}
	switch q.Kind {
	case KindEnumerated:
		for _, c := range q.Choices {
			if c == v.Choice {
				return nil
			}
		}
		return NewValidationError("answer.choice",
			fmt.Sprintf("choice not offered by question %s", q.ID), v.Choice)
	case KindNumeric:
		if q.Min != nil && v.Number < *q.Min {
			return NewValidationError("answer.number",
				fmt.Sprintf("below minimum %g for question %s", *q.Min, q.ID), v.Number)
		}
		if q.Max != nil && v.Number > *q.Max {
			return NewValidationError("answer.number",
				fmt.Sprintf("above maximum %g for question %s", *q.Max, q.ID), v.Number)
		}
	}
	return nil
}

// IsPositive reports whether an answer counts as positive evidence for
// this question's associations. The answer must already be validated.
func (q *Question) IsPositive(v AnswerValue) bool {
	switch q.Kind {
	case KindBoolean:
		return v.Bool
	case KindNumeric:
		return v.Number >= q.PositiveThreshold
	case KindEnumerated:
		for _, c := range q.PositiveChoices {
			if c == v.Choice {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// HasGeneEvidence reports whether the question contributes to any gene.
func (q *Question) HasGeneEvidence() bool { return len(q.Genes) > 0 }

// HasFactorEvidence reports whether the question contributes to any
// epigenetic factor.
func (q *Question) HasFactorEvidence() bool { return len(q.Factors) > 0 }
