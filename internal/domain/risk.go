package domain

// GeneRiskEstimate is the derived Bayesian posterior for one gene. It is
// a pure projection of the response list plus the catalog priors and is
// never persisted as independent truth.
type GeneRiskEstimate struct {
	Gene          string   `json:"gene"`
	Prior         float64  `json:"prior"`
	LogOdds       float64  `json:"log_odds"`
	Posterior     float64  `json:"posterior"`
	CILower       float64  `json:"ci_lower"`
	CIUpper       float64  `json:"ci_upper"`
	EvidenceCount int      `json:"evidence_count"`
	Tier          RiskTier `json:"tier"`
}

// EpigeneticFactorEstimate is the derived score for one epigenetic
// factor: a logistic-squashed weighted sum of contributing answers.
type EpigeneticFactorEstimate struct {
	Factor        string   `json:"factor"`
	RawScore      float64  `json:"raw_score"`
	Probability   float64  `json:"probability"`
	Tier          RiskTier `json:"tier"`
	Modifiable    bool     `json:"modifiable"`
	EvidenceCount int      `json:"evidence_count"`
}

// RiskSnapshot bundles the full derived risk state of a session at one
// version. Snapshots contain no timestamps: identical response lists
// produce bit-identical snapshots.
type RiskSnapshot struct {
	Genes   []GeneRiskEstimate         `json:"genes"`
	Factors []EpigeneticFactorEstimate `json:"factors"`

	// OverallScore blends the top genetic posterior and top factor
	// probability; OverallTier applies the shared threshold function.
	OverallScore float64  `json:"overall_score"`
	OverallTier  RiskTier `json:"overall_tier"`

	// Reliability grows with the number of answered questions and
	// labels how much weight an interim snapshot deserves.
	AnsweredCount int     `json:"answered_count"`
	Confidence    float64 `json:"confidence"`
	Reliability   string  `json:"reliability"`
}

// TopGene returns the estimate with the highest posterior, or nil when
// no gene is tracked.
func (rs *RiskSnapshot) TopGene() *GeneRiskEstimate {
	var top *GeneRiskEstimate
	for i := range rs.Genes {
		if top == nil || rs.Genes[i].Posterior > top.Posterior {
			top = &rs.Genes[i]
		}
	}
	return top
}

// TopFactor returns the factor estimate with the highest probability, or
// nil when no factor is tracked.
func (rs *RiskSnapshot) TopFactor() *EpigeneticFactorEstimate {
	var top *EpigeneticFactorEstimate
	for i := range rs.Factors {
		if top == nil || rs.Factors[i].Probability > top.Probability {
			top = &rs.Factors[i]
		}
	}
	return top
}
