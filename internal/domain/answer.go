package domain

import (
	"fmt"
	"strconv"
)

// AnswerValue is a closed tagged variant over the three response payload
// types. Exactly one of the value fields is meaningful, selected by Kind;
// mismatches are rejected at answer time, never deferred to computation.
type AnswerValue struct {
	Kind   ResponseKind `json:"kind"`
	Bool   bool         `json:"bool,omitempty"`
	Number float64      `json:"number,omitempty"`
	Choice string       `json:"choice,omitempty"`
}

// BoolAnswer creates a boolean answer value.
func BoolAnswer(v bool) AnswerValue {
	return AnswerValue{Kind: KindBoolean, Bool: v}
}

// NumberAnswer creates a numeric answer value.
func NumberAnswer(v float64) AnswerValue {
	return AnswerValue{Kind: KindNumeric, Number: v}
}

// ChoiceAnswer creates an enumerated answer value.
func ChoiceAnswer(v string) AnswerValue {
	return AnswerValue{Kind: KindEnumerated, Choice: v}
}

// Equal reports whether two answer values are the same choice of the
// variant with the same payload. Used for prerequisite matching.
func (v AnswerValue) Equal(other AnswerValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBoolean:
		return v.Bool == other.Bool
	case KindNumeric:
		return v.Number == other.Number
	case KindEnumerated:
		return v.Choice == other.Choice
	default:
		return false
	}
}

// String renders the payload for logging and audit trails.
func (v AnswerValue) String() string {
	switch v.Kind {
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindNumeric:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case KindEnumerated:
		return v.Choice
	default:
		return fmt.Sprintf("invalid(%s)", string(v.Kind))
	}
}

// Validate checks that the variant tag is well formed.
func (v AnswerValue) Validate() error {
	if !v.Kind.IsValid() {
		return NewValidationError("answer.kind", "unknown response kind", string(v.Kind))
	}
	return nil
}
