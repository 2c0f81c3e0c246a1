package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordResponseReplacesInPlace(t *testing.T) {
	s := &Session{ID: "s1", Type: GeneticScreening, State: StateActive}

	s.RecordResponse(Response{QuestionID: "q001", Value: BoolAnswer(true)})
	s.RecordResponse(Response{QuestionID: "q002", Value: BoolAnswer(false)})
	require.Len(t, s.Responses, 2)

	// Re-answering q001 must replace, not append.
	s.RecordResponse(Response{QuestionID: "q001", Value: BoolAnswer(false)})
	require.Len(t, s.Responses, 2)
	assert.False(t, s.Responses[0].Value.Bool)
	assert.Equal(t, "q001", s.Responses[0].QuestionID)
}

func TestMarkSkippedIdempotent(t *testing.T) {
	s := &Session{}
	s.MarkSkipped("q005")
	s.MarkSkipped("q005")
	assert.Equal(t, []string{"q005"}, s.Skipped)
}

func TestAskedSetLifecycle(t *testing.T) {
	s := &Session{}
	s.MarkAsked("q001")
	s.MarkAsked("q001")
	require.Equal(t, []string{"q001"}, s.Asked)

	s.ClearAsked("q001")
	assert.Empty(t, s.Asked)
	s.ClearAsked("q001") // no-op on absent
}

func TestExpiredAt(t *testing.T) {
	now := time.Now()
	s := &Session{LastActivity: now.Add(-25 * time.Hour)}
	assert.True(t, s.ExpiredAt(now, 24*time.Hour))

	s.LastActivity = now.Add(-23 * time.Hour)
	assert.False(t, s.ExpiredAt(now, 24*time.Hour))
}

func TestCloneIsDeep(t *testing.T) {
	s := &Session{
		ID:        "s1",
		Responses: []Response{{QuestionID: "q001", Value: BoolAnswer(true)}},
		Skipped:   []string{"q002"},
	}
	cp := s.Clone()
	cp.Responses[0].Value = BoolAnswer(false)
	cp.Skipped[0] = "q009"

	assert.True(t, s.Responses[0].Value.Bool, "clone must not alias responses")
	assert.Equal(t, "q002", s.Skipped[0], "clone must not alias skip set")
}

func TestAnswerValueEqual(t *testing.T) {
	assert.True(t, BoolAnswer(true).Equal(BoolAnswer(true)))
	assert.False(t, BoolAnswer(true).Equal(BoolAnswer(false)))
	assert.False(t, BoolAnswer(true).Equal(NumberAnswer(1)))
	assert.True(t, ChoiceAnswer("other").Equal(ChoiceAnswer("other")))
	assert.False(t, NumberAnswer(2).Equal(NumberAnswer(3)))
}
