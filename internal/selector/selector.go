// Package selector picks the next question to ask. Selection is
// deterministic: the same session state and risk snapshot always yield
// the same question, so a replayed session asks the identical sequence.
package selector

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/oncorisk-engine/internal/domain"
	"github.com/oncorisk-engine/internal/knowledge"
	"github.com/oncorisk-engine/internal/risk"
)

// Selector ranks eligible questions by expected information gain
// against the current risk estimates, weighted by static priority.
type Selector struct {
	logger  *logrus.Logger
	catalog *knowledge.Catalog
	budgets map[string]int
}

// New creates a selector over a validated catalog. Budgets cap the
// number of questions per questionnaire type.
func New(logger *logrus.Logger, catalog *knowledge.Catalog, cfg *domain.EngineConfig) *Selector {
	budgets := make(map[string]int, len(cfg.QuestionBudgets))
	for k, v := range cfg.QuestionBudgets {
		budgets[k] = v
	}
	return &Selector{
		logger:  logger,
		catalog: catalog,
		budgets: budgets,
	}
}

// Budget returns the question cap for a questionnaire type. A type with
// no configured budget is uncapped only by pool exhaustion.
func (s *Selector) Budget(t domain.QuestionnaireType) int {
	if b, ok := s.budgets[string(t)]; ok {
		return b
	}
	return 0
}

// Next returns the highest-scoring eligible question, or nil when the
// questionnaire is complete. Before ranking it propagates skips: any
// pool question whose prerequisites can no longer be satisfied is
// marked skipped on the session, transitively, so it never blocks
// completion detection.
func (s *Selector) Next(sess *domain.Session, snap *domain.RiskSnapshot) *domain.Question {
	pool := s.catalog.QuestionsFor(sess.Type)
	answers := sess.AnswerMap()

	s.propagateSkips(sess, pool, answers)

	if budget := s.Budget(sess.Type); budget > 0 && len(sess.Responses) >= budget {
		return nil
	}

	posteriors := genePosteriors(snap)
	probabilities := factorProbabilities(snap)

	skipped := skipSet(sess)
	var best *domain.Question
	var bestScore float64
	for _, q := range pool { // pool is ID-ordered; strict > keeps the lowest ID on ties
		if sess.HasAnswered(q.ID) || skipped[q.ID] {
			continue
		}
		if !s.catalog.DependenciesSatisfied(q, answers) {
			continue
		}
		score := s.score(q, posteriors, probabilities)
		if best == nil || score > bestScore {
			best, bestScore = q, score
		}
	}

	if best != nil && s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"question":   best.ID,
			"score":      bestScore,
		}).Debug("Selected next question")
	}
	return best
}

// Remaining reports how many more questions the session can be asked:
// askable pool questions after skip propagation, capped by what is
// left of the per-type budget. Zero means the questionnaire is over.
func (s *Selector) Remaining(sess *domain.Session) int {
	pool := s.catalog.QuestionsFor(sess.Type)
	answers := sess.AnswerMap()
	s.propagateSkips(sess, pool, answers)

	skipped := skipSet(sess)
	n := 0
	for _, q := range pool {
		if !sess.HasAnswered(q.ID) && !skipped[q.ID] {
			n++
		}
	}
	if budget := s.Budget(sess.Type); budget > 0 {
		left := budget - len(sess.Responses)
		if left < 0 {
			left = 0
		}
		if n > left {
			n = left
		}
	}
	return n
}

// propagateSkips marks every pool question whose prerequisite chain is
// broken. Skipping cascades: a question blocked only by an already
// skipped prerequisite is itself skipped, so the loop runs to fixpoint.
func (s *Selector) propagateSkips(sess *domain.Session, pool []*domain.Question, answers map[string]domain.AnswerValue) {
	for {
		skipped := skipSet(sess)
		changed := false
		for _, q := range pool {
			if sess.HasAnswered(q.ID) || skipped[q.ID] {
				continue
			}
			if s.catalog.PrerequisitesBlocked(q, answers, skipped) {
				sess.MarkSkipped(q.ID)
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// score estimates how much asking q would sharpen the current
// estimates. Each association contributes its log-likelihood-ratio
// spread (or absolute weight) scaled by the Bernoulli variance of the
// estimate it would update, so evidence about already-settled genes
// scores near zero. Static priority multiplies the whole, front-loading
// clinically important questions while estimates are still diffuse.
func (s *Selector) score(q *domain.Question, posteriors, probabilities map[string]float64) float64 {
	gain := 0.0
	for _, ga := range q.Genes {
		spread := math.Abs(math.Log(ga.LRPositive) - math.Log(ga.LRNegative))
		gain += spread * risk.Uncertainty(posteriors[ga.Gene])
	}
	for _, fa := range q.Factors {
		gain += math.Abs(fa.Weight) * risk.Uncertainty(probabilities[fa.Factor])
	}
	return q.Priority * (1 + gain)
}

func genePosteriors(snap *domain.RiskSnapshot) map[string]float64 {
	m := make(map[string]float64, len(snap.Genes))
	for i := range snap.Genes {
		m[snap.Genes[i].Gene] = snap.Genes[i].Posterior
	}
	return m
}

func factorProbabilities(snap *domain.RiskSnapshot) map[string]float64 {
	m := make(map[string]float64, len(snap.Factors))
	for i := range snap.Factors {
		m[snap.Factors[i].Factor] = snap.Factors[i].Probability
	}
	return m
}

func skipSet(sess *domain.Session) map[string]bool {
	m := make(map[string]bool, len(sess.Skipped))
	for _, id := range sess.Skipped {
		m[id] = true
	}
	return m
}
