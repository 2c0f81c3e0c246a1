// Package risk derives posterior risk estimates from a session's
// response history. Every function here is pure: the same ordered
// response list always produces a bit-identical snapshot, which makes
// speculative recomputation safe and results auditable.
package risk

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/oncorisk-engine/internal/domain"
	"github.com/oncorisk-engine/internal/knowledge"
)

// z for a 95% normal-approximation interval on the log-odds scale.
const ciZ = 1.959964

// probEpsilon keeps posteriors strictly inside (0,1) so log-odds stay
// finite.
const probEpsilon = 1e-9

// Model computes genetic and epigenetic risk estimates against one
// catalog. It holds no mutable state and is safe for concurrent use.
type Model struct {
	logger  *logrus.Logger
	catalog *knowledge.Catalog

	thresholds      []float64
	populationSigma float64
}

// NewModel creates a risk model bound to a validated catalog.
// Thresholds are the ascending tier cut points; populationSigma is the
// default log-odds spread reported for un-evidenced genes.
func NewModel(logger *logrus.Logger, catalog *knowledge.Catalog, cfg *domain.EngineConfig) *Model {
	return &Model{
		logger:          logger,
		catalog:         catalog,
		thresholds:      append([]float64(nil), cfg.TierThresholds...),
		populationSigma: cfg.PopulationSigma,
	}
}

// Snapshot derives the full risk state for a response history. The
// questionnaire type selects which estimates are populated. A response
// referencing a question the catalog does not know is an invariant
// violation and surfaces as a ConsistencyError, never as a silently
// wrong probability.
func (m *Model) Snapshot(t domain.QuestionnaireType, responses []domain.Response) (*domain.RiskSnapshot, error) {
	snap := &domain.RiskSnapshot{AnsweredCount: len(responses)}

	if t == domain.GeneticScreening || t == domain.Comprehensive {
		genes, err := m.geneEstimates(responses)
		if err != nil {
			return nil, err
		}
		snap.Genes = genes
	}
	if t == domain.EpigeneticAssessment || t == domain.Comprehensive {
		factors, err := m.factorEstimates(responses)
		if err != nil {
			return nil, err
		}
		snap.Factors = factors
	}

	m.fillOverall(snap)
	m.logger.WithFields(logrus.Fields{
		"type":     t.String(),
		"answered": snap.AnsweredCount,
		"tier":     snap.OverallTier.String(),
	}).Debug("Risk snapshot derived")
	return snap, nil
}

// geneEstimates accumulates log-odds evidence per gene across the
// ordered response list.
func (m *Model) geneEstimates(responses []domain.Response) ([]domain.GeneRiskEstimate, error) {
	answers := make(map[string]domain.AnswerValue, len(responses))
	for i := range responses {
		answers[responses[i].QuestionID] = responses[i].Value
	}

	genes := m.catalog.Genes()
	out := make([]domain.GeneRiskEstimate, 0, len(genes))
	for _, g := range genes {
		est, err := m.geneEstimate(g, responses, answers)
		if err != nil {
			return nil, err
		}
		out = append(out, est)
	}
	return out, nil
}

func (m *Model) geneEstimate(g knowledge.Gene, responses []domain.Response, answers map[string]domain.AnswerValue) (domain.GeneRiskEstimate, error) {
	// Demographic modifiers scale the prior odds, not the evidence.
	priorOdds := g.BaseRate / (1 - g.BaseRate)
	for _, mod := range g.Modifiers {
		if got, ok := answers[mod.QuestionID]; ok && got.Equal(mod.Answer) {
			priorOdds *= mod.OddsMultiplier
		}
	}
	prior := clampProbability(priorOdds / (1 + priorOdds))

	logOdds := math.Log(priorOdds)
	variance := 0.0
	evidence := 0

	for i := range responses {
		r := &responses[i]
		q, ok := m.catalog.Question(r.QuestionID)
		if !ok {
			return domain.GeneRiskEstimate{}, &domain.ConsistencyError{
				Detail: "response references question absent from catalog: " + r.QuestionID,
			}
		}
		assoc, ok := geneAssociation(q, g.Symbol)
		if !ok {
			continue // contributes LR = 1
		}
		c := clampConfidence(r.Confidence)
		if c == 0 {
			continue // explicitly zero-weighted answers carry no evidence
		}
		lr := assoc.LRNegative
		if q.IsPositive(r.Value) {
			lr = assoc.LRPositive
		}
		logOdds += c * math.Log(lr)
		variance += c * c * assoc.Variance
		evidence++
	}

	sigma := m.populationSigma
	if evidence > 0 {
		sigma = math.Sqrt(variance)
	}

	posterior := clampProbability(sigmoid(logOdds))
	est := domain.GeneRiskEstimate{
		Gene:          g.Symbol,
		Prior:         prior,
		LogOdds:       logOdds,
		Posterior:     posterior,
		CILower:       clampProbability(sigmoid(logOdds - ciZ*sigma)),
		CIUpper:       clampProbability(sigmoid(logOdds + ciZ*sigma)),
		EvidenceCount: evidence,
		Tier:          m.Tier(posterior),
	}
	return est, nil
}

// factorEstimates derives each epigenetic factor as a logistic squash
// of the factor baseline plus contributing answer weights, so no single
// answer can push a score outside (0,1).
func (m *Model) factorEstimates(responses []domain.Response) ([]domain.EpigeneticFactorEstimate, error) {
	factors := m.catalog.Factors()
	out := make([]domain.EpigeneticFactorEstimate, 0, len(factors))

	for _, f := range factors {
		raw := f.Baseline
		evidence := 0
		for i := range responses {
			r := &responses[i]
			q, ok := m.catalog.Question(r.QuestionID)
			if !ok {
				return nil, &domain.ConsistencyError{
					Detail: "response references question absent from catalog: " + r.QuestionID,
				}
			}
			assoc, ok := factorAssociation(q, f.Name)
			if !ok {
				continue
			}
			c := clampConfidence(r.Confidence)
			if c == 0 {
				continue
			}
			evidence++
			if q.IsPositive(r.Value) {
				raw += c * assoc.Weight
			}
		}

		prob := clampProbability(sigmoid(raw))
		out = append(out, domain.EpigeneticFactorEstimate{
			Factor:        f.Name,
			RawScore:      raw,
			Probability:   prob,
			Tier:          m.Tier(prob),
			Modifiable:    f.Modifiable,
			EvidenceCount: evidence,
		})
	}
	return out, nil
}

// fillOverall blends the top genetic and epigenetic signals into one
// score and tier, and labels interim reliability by answer count.
func (m *Model) fillOverall(snap *domain.RiskSnapshot) {
	topGene := snap.TopGene()
	topFactor := snap.TopFactor()

	switch {
	case topGene != nil && topFactor != nil:
		snap.OverallScore = 0.7*topGene.Posterior + 0.3*topFactor.Probability
	case topGene != nil:
		snap.OverallScore = 0.8 * topGene.Posterior
	case topFactor != nil:
		snap.OverallScore = 0.6 * topFactor.Probability
	}
	snap.OverallTier = m.Tier(snap.OverallScore)

	snap.Confidence = math.Min(1.0, float64(snap.AnsweredCount)/10.0)
	switch {
	case snap.Confidence < 0.3:
		snap.Reliability = "low"
	case snap.Confidence < 0.7:
		snap.Reliability = "moderate"
	default:
		snap.Reliability = "high"
	}
}

// Tier maps a probability onto the configured clinical-significance
// step function.
func (m *Model) Tier(p float64) domain.RiskTier {
	switch {
	case p < m.thresholds[0]:
		return domain.TierRoutine
	case p < m.thresholds[1]:
		return domain.TierElevated
	case p < m.thresholds[2]:
		return domain.TierUrgent
	default:
		return domain.TierCritical
	}
}

// Uncertainty returns p(1-p), the Bernoulli variance of an estimate,
// used by the selector to weigh expected information gain.
func Uncertainty(p float64) float64 { return p * (1 - p) }

func geneAssociation(q *domain.Question, symbol string) (domain.GeneAssociation, bool) {
	for _, a := range q.Genes {
		if a.Gene == symbol {
			return a, true
		}
	}
	return domain.GeneAssociation{}, false
}

func factorAssociation(q *domain.Question, name string) (domain.FactorAssociation, bool) {
	for _, a := range q.Factors {
		if a.Factor == name {
			return a, true
		}
	}
	return domain.FactorAssociation{}, false
}

func sigmoid(logOdds float64) float64 {
	return 1 / (1 + math.Exp(-logOdds))
}

func clampProbability(p float64) float64 {
	if p < probEpsilon {
		return probEpsilon
	}
	if p > 1-probEpsilon {
		return 1 - probEpsilon
	}
	return p
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
