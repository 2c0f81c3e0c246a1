package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncorisk-engine/internal/archive"
	"github.com/oncorisk-engine/internal/domain"
	"github.com/oncorisk-engine/internal/knowledge"
	"github.com/oncorisk-engine/internal/risk"
	"github.com/oncorisk-engine/internal/selector"
)

// fakeArchive records saves in memory for assertions.
type fakeArchive struct {
	mu      sync.Mutex
	records map[string]*archive.Record
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{records: make(map[string]*archive.Record)}
}

func (f *fakeArchive) Save(ctx context.Context, rec *archive.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.SessionID] = rec
	return nil
}

func (f *fakeArchive) Get(ctx context.Context, sessionID string) (*archive.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return rec, nil
}

func (f *fakeArchive) Purge(ctx context.Context, before time.Time) (int64, error) { return 0, nil }
func (f *fakeArchive) Close() error                                               { return nil }

func machineCatalog(t *testing.T) *knowledge.Catalog {
	t.Helper()
	c, err := knowledge.New(knowledge.Document{
		Version: "test",
		Genes: []knowledge.Gene{
			{Symbol: "BRCA1", BaseRate: 0.02},
		},
		Factors: []knowledge.Factor{
			{Name: "tobacco_exposure", Baseline: -2.0, Modifiable: true},
		},
		Questions: []domain.Question{
			{
				ID: "q001", Text: "Relative with early breast cancer?",
				Category: domain.CategoryFamilyHistory, Kind: domain.KindBoolean,
				Genes: []domain.GeneAssociation{
					{Gene: "BRCA1", LRPositive: 8.0, LRNegative: 0.9, Variance: 0.04},
				},
				Priority: 3.0,
			},
			{
				ID: "q002", Text: "Was the cancer bilateral?",
				Category: domain.CategoryFamilyHistory, Kind: domain.KindBoolean,
				Genes: []domain.GeneAssociation{
					{Gene: "BRCA1", LRPositive: 2.2, LRNegative: 1.0, Variance: 0.03},
				},
				Prerequisites: []domain.Prerequisite{
					{QuestionID: "q001", RequiredAnswer: domain.BoolAnswer(true)},
				},
				Priority: 2.0,
			},
			{
				ID: "q010", Text: "How many cigarettes per day?",
				Category: domain.CategoryLifestyle, Kind: domain.KindNumeric,
				Min: floatPtr(0), Max: floatPtr(100), PositiveThreshold: 10,
				Factors:  []domain.FactorAssociation{{Factor: "tobacco_exposure", Weight: 0.8}},
				Priority: 1.8,
			},
		},
	})
	require.NoError(t, err)
	return c
}

func floatPtr(f float64) *float64 { return &f }

func testMachine(t *testing.T, archiver archive.Store) (*Machine, *MemoryStore) {
	t.Helper()
	catalog := machineCatalog(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cfg := &domain.EngineConfig{
		InactivityWindow:  24 * time.Hour,
		ResultsRetention:  168 * time.Hour,
		TierThresholds:    []float64{0.10, 0.30, 0.60},
		PopulationSigma:   0.5,
		SnapshotCacheSize: 64,
	}
	store := NewMemoryStore()
	model := risk.NewModel(logger, catalog, cfg)
	sel := selector.New(logger, catalog, cfg)
	m, err := NewMachine(logger, store, catalog, model, sel, archiver, cfg)
	require.NoError(t, err)
	return m, store
}

func TestStartSelectsFirstQuestion(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()

	sess, next, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sess.State)
	assert.Equal(t, int64(1), sess.Version)
	require.NotNil(t, next)
	assert.Equal(t, "q001", next.ID)
	assert.Contains(t, sess.Asked, "q001")
}

func TestStartRejectsUnknownType(t *testing.T) {
	m, _ := testMachine(t, nil)
	_, _, err := m.Start(context.Background(), domain.QuestionnaireType("palm_reading"))
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestAnswerAdvancesAndCompletes(t *testing.T) {
	arch := newFakeArchive()
	m, _ := testMachine(t, arch)
	ctx := context.Background()

	sess, next, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)
	require.Equal(t, "q001", next.ID)

	sess2, next, snap, err := m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sess2.Version)
	require.NotNil(t, next)
	assert.Equal(t, "q002", next.ID)
	assert.Equal(t, 1, snap.AnsweredCount)

	// Final answer exhausts the genetic pool and auto-completes.
	sess3, next, snap, err := m.Answer(ctx, sess.ID, "q002", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, domain.StateCompleted, sess3.State)
	assert.Equal(t, 2, snap.AnsweredCount)

	rec, err := arch.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.OverallTier, rec.OverallTier)
	assert.Equal(t, "test", rec.CatalogVersion)
}

func TestNegativeAnswerSkipsDependentsAndCompletes(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()

	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	// q002 requires q001=true, so answering false ends the questionnaire.
	sess2, next, _, err := m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(false), 1.0, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, domain.StateCompleted, sess2.State)
	assert.Contains(t, sess2.Skipped, "q002")
}

func TestReAnswerReplacesResponse(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()

	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	_, _, first, err := m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)

	sess2, _, second, err := m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, second.AnsweredCount, "re-answer must replace, not append")
	assert.Equal(t, first.Genes, second.Genes, "same answer must reproduce the same estimates")
	assert.Greater(t, sess2.Version, int64(2), "every mutation bumps the version")
}

func TestAnswerValidation(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	// Wrong payload kind.
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.NumberAnswer(3), 1.0, 0)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	// Confidence out of range.
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.5, 0)
	assert.ErrorAs(t, err, &ve)

	// Question outside the genetic pool.
	_, _, _, err = m.Answer(ctx, sess.ID, "q010", domain.NumberAnswer(20), 1.0, 0)
	assert.ErrorIs(t, err, domain.ErrUnknownQuestion)

	// Prerequisite not yet satisfied.
	_, _, _, err = m.Answer(ctx, sess.ID, "q002", domain.BoolAnswer(true), 1.0, 0)
	assert.ErrorIs(t, err, domain.ErrUnknownQuestion)

	// Failed validation leaves the session untouched.
	got, _, err := m.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Empty(t, got.Responses)
}

func TestPauseResumeLifecycle(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	paused, err := m.Pause(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePaused, paused.State)

	// Answering while paused is a state error.
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Interim results remain readable while paused.
	_, snap, err := m.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "low", snap.Reliability)

	resumed, next, err := m.Resume(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, resumed.State)
	require.NotNil(t, next)
	assert.Equal(t, "q001", next.ID, "resume reissues the pending question")
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	_, _, err = m.Complete(ctx, sess.ID)
	require.NoError(t, err)

	_, err = m.Pause(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, _, err = m.Resume(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Completed results stay readable.
	got, _, err := m.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
}

func TestInactivityExpiry(t *testing.T) {
	m, store := testMachine(t, nil)
	ctx := context.Background()

	// One clock drives the machine and the store, so the store key
	// genuinely ages alongside the logical window.
	now := time.Now()
	base := now
	m.now = func() time.Time { return now }
	store.now = m.now
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	// Cross the inactivity window; the next access observes expiry.
	now = base.Add(25 * time.Hour)
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	// Results stay readable on the expired session, frozen at the last
	// recorded answer.
	got, snap, err := m.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, got.State)
	assert.Equal(t, 0, snap.AnsweredCount)
}

func TestExpiredResumeKeepsFrozenResults(t *testing.T) {
	m, store := testMachine(t, nil)
	ctx := context.Background()

	now := time.Now()
	base := now
	m.now = func() time.Time { return now }
	store.now = m.now
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)

	_, err = m.Pause(ctx, sess.ID)
	require.NoError(t, err)

	// Past the window the store must still hold the key: the expiry
	// verdict has to come from the inactivity check, not eviction.
	now = base.Add(25 * time.Hour)
	_, _, err = m.Resume(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	got, snap, err := m.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, got.State)
	assert.Equal(t, 1, snap.AnsweredCount, "snapshot frozen at the last answer")
}

func TestCompleteIsIdempotent(t *testing.T) {
	arch := newFakeArchive()
	m, _ := testMachine(t, arch)
	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	first, snapA, err := m.Complete(ctx, sess.ID)
	require.NoError(t, err)

	second, snapB, err := m.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, second.State)
	assert.Equal(t, first.Version, second.Version, "repeat completion must not mutate")
	assert.Equal(t, snapA, snapB)
}

func TestStaleCallerVersionConflicts(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	// Correct version succeeds, stale version conflicts without mutating.
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, sess.Version)
	require.NoError(t, err)

	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(false), 1.0, sess.Version)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.True(t, domain.IsRetryable(err))

	got, snap, err := m.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.Responses[0].Value.Bool, "losing write must not land")
	assert.Equal(t, 1, snap.AnsweredCount)
}

func TestActivityResetsExpiryWindow(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	// 23h later: still live, and the answer resets the clock.
	m.now = func() time.Time { return base.Add(23 * time.Hour) }
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)

	// 23h after that answer the session must still be live.
	m.now = func() time.Time { return base.Add(46 * time.Hour) }
	_, _, err = m.Results(ctx, sess.ID)
	assert.NoError(t, err)
}

// raceStore simulates a concurrent writer that wins the race between
// the machine's read and its conditional put.
type raceStore struct {
	*MemoryStore
	once sync.Once
}

func (r *raceStore) Put(ctx context.Context, sess *domain.Session, expected int64, ttl time.Duration) error {
	r.once.Do(func() {
		winner := sess.Clone()
		winner.Version = expected + 1
		_ = r.MemoryStore.Put(ctx, winner, expected, ttl)
	})
	return r.MemoryStore.Put(ctx, sess, expected, ttl)
}

func TestVersionConflictSurfacesToCaller(t *testing.T) {
	catalog := machineCatalog(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cfg := &domain.EngineConfig{
		InactivityWindow:  24 * time.Hour,
		ResultsRetention:  168 * time.Hour,
		TierThresholds:    []float64{0.10, 0.30, 0.60},
		PopulationSigma:   0.5,
		SnapshotCacheSize: 64,
	}
	store := &raceStore{MemoryStore: NewMemoryStore()}
	model := risk.NewModel(logger, catalog, cfg)
	sel := selector.New(logger, catalog, cfg)
	m, err := NewMachine(logger, store, catalog, model, sel, nil, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.True(t, domain.IsRetryable(err))

	// The loser retries with fresh state and succeeds.
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	assert.NoError(t, err)
}

// conflictOnceStore rejects the first conditional put without writing,
// as if a concurrent winner had landed between the read and the put.
type conflictOnceStore struct {
	*MemoryStore
	once     sync.Once
	rejected bool
}

func (s *conflictOnceStore) Put(ctx context.Context, sess *domain.Session, expected int64, ttl time.Duration) error {
	reject := false
	s.once.Do(func() { reject = true })
	if reject {
		s.rejected = true
		return &domain.VersionConflictError{SessionID: sess.ID, Expected: expected, Actual: expected + 1}
	}
	return s.MemoryStore.Put(ctx, sess, expected, ttl)
}

// A losing writer's derived snapshot must never be served for the
// version the winning writer lands on.
func TestRejectedWriteDoesNotPoisonSnapshots(t *testing.T) {
	catalog := machineCatalog(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cfg := &domain.EngineConfig{
		InactivityWindow:  24 * time.Hour,
		ResultsRetention:  168 * time.Hour,
		TierThresholds:    []float64{0.10, 0.30, 0.60},
		PopulationSigma:   0.5,
		SnapshotCacheSize: 64,
	}
	store := &conflictOnceStore{MemoryStore: NewMemoryStore()}
	model := risk.NewModel(logger, catalog, cfg)
	sel := selector.New(logger, catalog, cfg)
	m, err := NewMachine(logger, store, catalog, model, sel, nil, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	// This write loses the race; its q001=false projection must not
	// be cached under the version it never persisted.
	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(false), 1.0, 0)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	require.True(t, store.rejected)

	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)

	_, snap, err := m.Results(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, snap.Genes, 1)
	// prior odds 0.02/0.98 times LR 8.
	assert.InDelta(t, 0.1404, snap.Genes[0].Posterior, 0.001,
		"results must reflect the persisted q001=true answer")
}

func TestProgressReporting(t *testing.T) {
	m, _ := testMachine(t, nil)
	ctx := context.Background()
	sess, _, err := m.Start(ctx, domain.GeneticScreening)
	require.NoError(t, err)

	p, err := m.Progress(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Answered)
	assert.Equal(t, 2, p.Remaining)

	_, _, _, err = m.Answer(ctx, sess.ID, "q001", domain.BoolAnswer(true), 1.0, 0)
	require.NoError(t, err)

	p, err = m.Progress(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Answered)
	assert.Equal(t, 1, p.Remaining)
}

func TestReplayDeterminism(t *testing.T) {
	runOnce := func() (string, *domain.RiskSnapshot) {
		m, _ := testMachine(t, nil)
		ctx := context.Background()
		sess, next, err := m.Start(ctx, domain.GeneticScreening)
		require.NoError(t, err)

		var snap *domain.RiskSnapshot
		order := ""
		for next != nil {
			order += next.ID + ","
			_, next, snap, err = m.Answer(ctx, sess.ID, next.ID, domain.BoolAnswer(true), 1.0, 0)
			require.NoError(t, err)
		}
		return order, snap
	}

	orderA, snapA := runOnce()
	orderB, snapB := runOnce()
	assert.Equal(t, orderA, orderB, "replay must ask the identical sequence")
	assert.Equal(t, snapA.Genes, snapB.Genes, "replay must produce identical estimates")
}
