// Package session implements the questionnaire lifecycle: session
// stores with optimistic concurrency, and the state machine that
// validates answers, advances the adaptive selection loop, and derives
// risk snapshots.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/oncorisk-engine/internal/archive"
	"github.com/oncorisk-engine/internal/domain"
	"github.com/oncorisk-engine/internal/knowledge"
	"github.com/oncorisk-engine/internal/risk"
	"github.com/oncorisk-engine/internal/selector"
)

// Progress summarizes how far a session has advanced against its
// question budget.
type Progress struct {
	SessionID string              `json:"session_id"`
	State     domain.SessionState `json:"state"`
	Answered  int                 `json:"answered"`
	Skipped   int                 `json:"skipped"`
	Budget    int                 `json:"budget"`
	Remaining int                 `json:"remaining"`
	Percent   float64             `json:"percent"`
}

// Machine drives questionnaire sessions through their lifecycle. All
// mutations go through get-modify-conditional-put against the store, so
// concurrent writers race on the version counter and the loser gets a
// VersionConflictError to retry with fresh state.
type Machine struct {
	logger   *logrus.Logger
	store    domain.SessionStore
	catalog  *knowledge.Catalog
	model    *risk.Model
	selector *selector.Selector
	archiver archive.Store

	window    time.Duration
	retention time.Duration

	// ttl is the store-level key lifetime: the inactivity window plus
	// the results retention, so an expired session's frozen snapshot
	// stays readable after the logical window lapses. Expiry verdicts
	// come from the LastActivity check, never from store eviction.
	ttl time.Duration

	// snapshots memoizes derived risk state keyed by id:version.
	// Snapshots are pure projections, so a hit is always exact.
	snapshots *lru.Cache[string, *domain.RiskSnapshot]

	now func() time.Time
}

// NewMachine wires the state machine. archiver may be nil, in which
// case completed results live only as long as the session TTL.
func NewMachine(
	logger *logrus.Logger,
	store domain.SessionStore,
	catalog *knowledge.Catalog,
	model *risk.Model,
	sel *selector.Selector,
	archiver archive.Store,
	cfg *domain.EngineConfig,
) (*Machine, error) {
	size := cfg.SnapshotCacheSize
	if size <= 0 {
		size = 1024
	}
	snapshots, err := lru.New[string, *domain.RiskSnapshot](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &Machine{
		logger:    logger,
		store:     store,
		catalog:   catalog,
		model:     model,
		selector:  sel,
		archiver:  archiver,
		window:    cfg.InactivityWindow,
		retention: cfg.ResultsRetention,
		ttl:       cfg.InactivityWindow + cfg.ResultsRetention,
		snapshots: snapshots,
		now:       time.Now,
	}, nil
}

// Start creates a new ACTIVE session and selects its first question.
func (m *Machine) Start(ctx context.Context, t domain.QuestionnaireType) (*domain.Session, *domain.Question, error) {
	if !t.IsValid() {
		return nil, nil, domain.NewValidationError("type", "unknown questionnaire type", string(t))
	}

	now := m.now()
	sess := &domain.Session{
		ID:           uuid.NewString(),
		Type:         t,
		State:        domain.StateActive,
		CreatedAt:    now,
		LastActivity: now,
		Version:      1,
	}

	snap, err := m.derive(sess)
	if err != nil {
		return nil, nil, err
	}
	next := m.selector.Next(sess, snap)
	if next != nil {
		sess.MarkAsked(next.ID)
	}

	if err := m.store.Create(ctx, sess, m.ttl); err != nil {
		return nil, nil, fmt.Errorf("failed to persist new session: %w", err)
	}
	m.memoize(sess, snap)

	m.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"type":       t.String(),
	}).Info("Session started")
	return sess, next, nil
}

// Answer records a response and advances the selection loop. It returns
// the next question (nil once the session auto-completes) and the fresh
// risk snapshot. Re-answering an already-answered question replaces the
// previous response in place. expectedVersion > 0 asserts the caller's
// view of the session; a stale value fails with VersionConflictError
// before any mutation, in addition to the store-level conditional put.
func (m *Machine) Answer(ctx context.Context, sessionID, questionID string, value domain.AnswerValue, confidence float64, expectedVersion int64) (*domain.Session, *domain.Question, *domain.RiskSnapshot, error) {
	sess, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if sess.State != domain.StateActive {
		return nil, nil, nil, &domain.StateError{SessionID: sessionID, State: sess.State, Op: "answer"}
	}
	if expectedVersion > 0 && expectedVersion != sess.Version {
		return nil, nil, nil, &domain.VersionConflictError{
			SessionID: sessionID,
			Expected:  expectedVersion,
			Actual:    sess.Version,
		}
	}

	q, ok := m.catalog.Question(questionID)
	if !ok || !m.eligible(sess, q) {
		return nil, nil, nil, &domain.UnknownQuestionError{SessionID: sessionID, QuestionID: questionID}
	}
	if err := q.ValidateAnswer(value); err != nil {
		return nil, nil, nil, err
	}
	if confidence < 0 || confidence > 1 {
		return nil, nil, nil, domain.NewValidationError("confidence",
			"confidence must lie in [0,1]", confidence)
	}

	expected := sess.Version
	sess.RecordResponse(domain.Response{
		QuestionID: questionID,
		Value:      value,
		Confidence: confidence,
		AnsweredAt: m.now(),
	})
	sess.ClearAsked(questionID)
	sess.LastActivity = m.now()
	sess.Version++

	snap, err := m.derive(sess)
	if err != nil {
		return nil, nil, nil, err
	}

	next := m.selector.Next(sess, snap)
	if next != nil {
		sess.MarkAsked(next.ID)
	} else {
		sess.State = domain.StateCompleted
	}

	if err := m.store.Put(ctx, sess, expected, m.ttl); err != nil {
		return nil, nil, nil, err
	}
	m.memoize(sess, snap)

	if sess.State == domain.StateCompleted {
		m.archiveResults(ctx, sess, snap)
		m.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"answered":   len(sess.Responses),
			"tier":       snap.OverallTier.String(),
		}).Info("Session completed")
	}
	return sess, next, snap, nil
}

// Skip marks a question declined and advances selection. Questions
// depending on the skipped one become unreachable and are skipped
// transitively by the selector.
func (m *Machine) Skip(ctx context.Context, sessionID, questionID string) (*domain.Session, *domain.Question, error) {
	sess, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.State != domain.StateActive {
		return nil, nil, &domain.StateError{SessionID: sessionID, State: sess.State, Op: "skip"}
	}

	q, ok := m.catalog.Question(questionID)
	if !ok || !m.inPool(sess, q) || sess.HasAnswered(questionID) {
		return nil, nil, &domain.UnknownQuestionError{SessionID: sessionID, QuestionID: questionID}
	}

	expected := sess.Version
	sess.MarkSkipped(questionID)
	sess.ClearAsked(questionID)
	sess.LastActivity = m.now()
	sess.Version++

	snap, err := m.derive(sess)
	if err != nil {
		return nil, nil, err
	}
	next := m.selector.Next(sess, snap)
	if next != nil {
		sess.MarkAsked(next.ID)
	} else {
		sess.State = domain.StateCompleted
	}

	if err := m.store.Put(ctx, sess, expected, m.ttl); err != nil {
		return nil, nil, err
	}
	m.memoize(sess, snap)
	if sess.State == domain.StateCompleted {
		m.archiveResults(ctx, sess, snap)
	}
	return sess, next, nil
}

// Pause suspends an ACTIVE session.
func (m *Machine) Pause(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.transition(ctx, sessionID, domain.StatePaused, "pause")
}

// Resume reactivates a PAUSED session and reissues the pending
// question, if any.
func (m *Machine) Resume(ctx context.Context, sessionID string) (*domain.Session, *domain.Question, error) {
	sess, err := m.transition(ctx, sessionID, domain.StateActive, "resume")
	if err != nil {
		return nil, nil, err
	}
	snap, err := m.snapshot(sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, m.selector.Next(sess, snap), nil
}

// Complete finishes an ACTIVE session early, before budget or pool
// exhaustion. Results are archived with whatever evidence exists.
// Completing an already-completed session is a no-op returning the
// final snapshot.
func (m *Machine) Complete(ctx context.Context, sessionID string) (*domain.Session, *domain.RiskSnapshot, error) {
	sess, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.State == domain.StateCompleted {
		snap, err := m.snapshot(sess)
		if err != nil {
			return nil, nil, err
		}
		return sess, snap, nil
	}

	sess, err = m.transition(ctx, sessionID, domain.StateCompleted, "complete")
	if err != nil {
		return nil, nil, err
	}
	snap, err := m.snapshot(sess)
	if err != nil {
		return nil, nil, err
	}
	m.archiveResults(ctx, sess, snap)
	return sess, snap, nil
}

// Results returns the current risk snapshot in any state: interim
// results from ACTIVE and PAUSED sessions carry a reliability label,
// COMPLETED sessions return the final state, and EXPIRED sessions
// return the snapshot frozen at the last recorded answer. An access
// that observes an elapsed inactivity window still flips the session
// to EXPIRED first.
func (m *Machine) Results(ctx context.Context, sessionID string) (*domain.Session, *domain.RiskSnapshot, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !sess.State.IsTerminal() && sess.ExpiredAt(m.now(), m.window) {
		m.expire(ctx, sess)
	}
	snap, err := m.snapshot(sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, snap, nil
}

// Progress reports budget consumption for a session.
func (m *Machine) Progress(ctx context.Context, sessionID string) (*Progress, error) {
	sess, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	budget := m.selector.Budget(sess.Type)
	p := &Progress{
		SessionID: sess.ID,
		State:     sess.State,
		Answered:  len(sess.Responses),
		Skipped:   len(sess.Skipped),
		Budget:    budget,
		Remaining: m.selector.Remaining(sess),
	}
	if budget > 0 {
		p.Percent = float64(p.Answered) / float64(budget) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	if sess.State == domain.StateCompleted {
		p.Percent = 100
	}
	return p, nil
}

// ArchivedResults looks up a completed session's record in the archive,
// for sessions whose store entry has already expired.
func (m *Machine) ArchivedResults(ctx context.Context, sessionID string) (*archive.Record, error) {
	if m.archiver == nil {
		return nil, domain.ErrSessionNotFound
	}
	return m.archiver.Get(ctx, sessionID)
}

// transition applies a pure state transition with no response mutation.
func (m *Machine) transition(ctx context.Context, sessionID string, to domain.SessionState, op string) (*domain.Session, error) {
	sess, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.State.CanTransitionTo(to) {
		return nil, &domain.StateError{SessionID: sessionID, State: sess.State, Op: op}
	}

	expected := sess.Version
	sess.State = to
	sess.LastActivity = m.now()
	sess.Version++

	if err := m.store.Put(ctx, sess, expected, m.ttl); err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"state":      to.String(),
	}).Info("Session state changed")
	return sess, nil
}

// loadLive fetches a session and applies lazy expiry: an access that
// observes an elapsed inactivity window flips the session to EXPIRED
// and reports ExpiredError.
func (m *Machine) loadLive(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !sess.State.IsTerminal() && sess.ExpiredAt(m.now(), m.window) {
		m.expire(ctx, sess)
		return nil, &domain.ExpiredError{SessionID: sessionID}
	}
	if sess.State == domain.StateExpired {
		return nil, &domain.ExpiredError{SessionID: sessionID}
	}
	return sess, nil
}

// expire flips a session to terminal EXPIRED. The write is best-effort;
// the store TTL evicts the key once the retention period lapses.
func (m *Machine) expire(ctx context.Context, sess *domain.Session) {
	expected := sess.Version
	sess.State = domain.StateExpired
	sess.Version++
	if err := m.store.Put(ctx, sess, expected, m.ttl); err != nil {
		m.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"error":      err.Error(),
		}).Warn("Failed to persist expiry transition")
	}
}

// snapshot returns the memoized risk snapshot for a persisted session
// state, recomputing on miss. Mutating paths must use derive instead
// and memoize only after the conditional put succeeds, so a rejected
// write can never plant its projection under a version the winning
// writer lands on.
func (m *Machine) snapshot(sess *domain.Session) (*domain.RiskSnapshot, error) {
	key := snapshotKey(sess)
	if snap, ok := m.snapshots.Get(key); ok {
		return snap, nil
	}
	snap, err := m.derive(sess)
	if err != nil {
		return nil, err
	}
	m.snapshots.Add(key, snap)
	return snap, nil
}

// derive computes the risk snapshot without touching the memo cache.
func (m *Machine) derive(sess *domain.Session) (*domain.RiskSnapshot, error) {
	snap, err := m.model.Snapshot(sess.Type, sess.Responses)
	if err != nil {
		if ce, ok := err.(*domain.ConsistencyError); ok && ce.SessionID == "" {
			ce.SessionID = sess.ID
		}
		return nil, err
	}
	return snap, nil
}

// memoize records a derived snapshot for a session state that is now
// durably stored.
func (m *Machine) memoize(sess *domain.Session, snap *domain.RiskSnapshot) {
	m.snapshots.Add(snapshotKey(sess), snap)
}

func snapshotKey(sess *domain.Session) string {
	return fmt.Sprintf("%s:%d", sess.ID, sess.Version)
}

// eligible reports whether a question may be answered right now: it is
// in the session's pool, not skipped, and its prerequisites are met.
// Already-answered questions stay eligible so answers can be revised.
func (m *Machine) eligible(sess *domain.Session, q *domain.Question) bool {
	if !m.inPool(sess, q) || sess.HasSkipped(q.ID) {
		return false
	}
	return m.catalog.DependenciesSatisfied(q, sess.AnswerMap())
}

func (m *Machine) inPool(sess *domain.Session, q *domain.Question) bool {
	for _, candidate := range m.catalog.QuestionsFor(sess.Type) {
		if candidate.ID == q.ID {
			return true
		}
	}
	return false
}

// archiveResults persists the final snapshot. Archive failures are
// logged, not fatal: the session store still holds the result until its
// TTL lapses.
func (m *Machine) archiveResults(ctx context.Context, sess *domain.Session, snap *domain.RiskSnapshot) {
	if m.archiver == nil {
		return
	}
	now := m.now()
	rec := &archive.Record{
		SessionID:      sess.ID,
		Type:           sess.Type,
		CatalogVersion: m.catalog.Version(),
		AnsweredCount:  snap.AnsweredCount,
		OverallScore:   snap.OverallScore,
		OverallTier:    snap.OverallTier,
		Snapshot:       snap,
		CompletedAt:    now,
		ExpiresAt:      now.Add(m.retention),
	}
	if err := m.archiver.Save(ctx, rec); err != nil {
		m.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"error":      err.Error(),
		}).Error("Failed to archive results")
	}
}
