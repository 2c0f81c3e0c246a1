// Package domain contains the core business entities for adaptive
// genetic and epigenetic cancer-risk assessment: the question catalog,
// questionnaire sessions, and derived risk estimates.
package domain

// QuestionnaireType selects the question pool and scoring profile
// used for a session.
type QuestionnaireType string

const (
	GeneticScreening     QuestionnaireType = "genetic_screening"
	EpigeneticAssessment QuestionnaireType = "epigenetic_assessment"
	Comprehensive        QuestionnaireType = "comprehensive"
)

// SessionState represents the lifecycle state of a questionnaire session.
// Allowed transitions: ACTIVE -> {PAUSED, COMPLETED, EXPIRED},
// PAUSED -> {ACTIVE, EXPIRED}. COMPLETED and EXPIRED are terminal.
type SessionState string

const (
	StateActive    SessionState = "ACTIVE"
	StatePaused    SessionState = "PAUSED"
	StateCompleted SessionState = "COMPLETED"
	StateExpired   SessionState = "EXPIRED"
)

// RiskTier is the clinical-significance bucket derived from a posterior
// probability via the configurable threshold step function.
type RiskTier string

const (
	TierRoutine  RiskTier = "routine"
	TierElevated RiskTier = "elevated"
	TierUrgent   RiskTier = "urgent"
	TierCritical RiskTier = "critical"
)

// QuestionCategory groups questions for selection boosts and reporting.
type QuestionCategory string

const (
	CategoryFamilyHistory  QuestionCategory = "family_history"
	CategoryLifestyle      QuestionCategory = "lifestyle"
	CategoryMedicalHistory QuestionCategory = "medical_history"
	CategoryEnvironmental  QuestionCategory = "environmental"
)

// ResponseKind is the declared payload type of a question's answer.
type ResponseKind string

const (
	KindBoolean    ResponseKind = "boolean"
	KindEnumerated ResponseKind = "enumerated"
	KindNumeric    ResponseKind = "numeric"
)

// IsValid validates the questionnaire type.
func (t QuestionnaireType) IsValid() bool {
	switch t {
	case GeneticScreening, EpigeneticAssessment, Comprehensive:
		return true
	default:
		return false
	}
}

// String returns the string representation of the questionnaire type.
func (t QuestionnaireType) String() string { return string(t) }

// IsValid validates the session state.
func (s SessionState) IsValid() bool {
	switch s {
	case StateActive, StatePaused, StateCompleted, StateExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateExpired
}

// String returns the string representation of the session state.
func (s SessionState) String() string { return string(s) }

// CanTransitionTo reports whether the state machine allows moving from
// s to next. Terminal states reject every transition.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	switch s {
	case StateActive:
		return next == StatePaused || next == StateCompleted || next == StateExpired
	case StatePaused:
		return next == StateActive || next == StateExpired
	default:
		return false
	}
}

// IsValid validates the risk tier.
func (rt RiskTier) IsValid() bool {
	switch rt {
	case TierRoutine, TierElevated, TierUrgent, TierCritical:
		return true
	default:
		return false
	}
}

// String returns the string representation of the risk tier.
func (rt RiskTier) String() string { return string(rt) }

// RequiresClinicalAction reports whether the tier warrants clinical
// follow-up. Used by the reporting layer to prioritize referrals.
func (rt RiskTier) RequiresClinicalAction() bool {
	return rt == TierUrgent || rt == TierCritical
}

// IsValid validates the question category.
func (c QuestionCategory) IsValid() bool {
	switch c {
	case CategoryFamilyHistory, CategoryLifestyle, CategoryMedicalHistory, CategoryEnvironmental:
		return true
	default:
		return false
	}
}

// IsValid validates the response kind.
func (k ResponseKind) IsValid() bool {
	switch k {
	case KindBoolean, KindEnumerated, KindNumeric:
		return true
	default:
		return false
	}
}
