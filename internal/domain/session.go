package domain

import "time"

// Response records one answer. Re-answering a question replaces the
// existing entry in place; the response list never holds duplicates.
// Confidence is the evidence weight in [0,1], resolved by the caller
// before recording: zero means the answer carries no evidential weight.
type Response struct {
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"value"`
	Confidence float64     `json:"confidence"`
	AnsweredAt time.Time   `json:"answered_at"`
}

// Session is the persisted record of one questionnaire run. It is
// mutated only through the state machine; every derived risk estimate is
// reproducible from {Type, Responses, catalog} alone, so no risk state
// is stored here.
type Session struct {
	ID           string            `json:"id"`
	Type         QuestionnaireType `json:"type"`
	State        SessionState      `json:"state"`
	Responses    []Response        `json:"responses"`
	Asked        []string          `json:"asked,omitempty"`
	Skipped      []string          `json:"skipped,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`

	// Version is the optimistic-concurrency counter, incremented on
	// every successful mutation.
	Version int64 `json:"version"`
}

// HasAnswered reports whether the question has a recorded response.
func (s *Session) HasAnswered(questionID string) bool {
	for i := range s.Responses {
		if s.Responses[i].QuestionID == questionID {
			return true
		}
	}
	return false
}

// HasSkipped reports whether the question was marked skipped.
func (s *Session) HasSkipped(questionID string) bool {
	for _, id := range s.Skipped {
		if id == questionID {
			return true
		}
	}
	return false
}

// AnswerMap returns question ID to answer value for prerequisite checks.
func (s *Session) AnswerMap() map[string]AnswerValue {
	m := make(map[string]AnswerValue, len(s.Responses))
	for i := range s.Responses {
		m[s.Responses[i].QuestionID] = s.Responses[i].Value
	}
	return m
}

// RecordResponse appends a response, or replaces the existing one for
// the same question.
func (s *Session) RecordResponse(r Response) {
	for i := range s.Responses {
		if s.Responses[i].QuestionID == r.QuestionID {
			s.Responses[i] = r
			return
		}
	}
	s.Responses = append(s.Responses, r)
}

// MarkSkipped adds the question to the skip set if not already present.
func (s *Session) MarkSkipped(questionID string) {
	if !s.HasSkipped(questionID) {
		s.Skipped = append(s.Skipped, questionID)
	}
}

// MarkAsked records the question as asked-but-unanswered. Answering or
// skipping clears it.
func (s *Session) MarkAsked(questionID string) {
	for _, id := range s.Asked {
		if id == questionID {
			return
		}
	}
	s.Asked = append(s.Asked, questionID)
}

// ClearAsked removes the question from the asked-but-unanswered set.
func (s *Session) ClearAsked(questionID string) {
	for i, id := range s.Asked {
		if id == questionID {
			s.Asked = append(s.Asked[:i], s.Asked[i+1:]...)
			return
		}
	}
}

// ExpiredAt reports whether the inactivity window has elapsed at the
// given instant.
func (s *Session) ExpiredAt(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastActivity) > window
}

// Clone returns a deep copy. Stores hand copies to callers so that
// speculative computation never aliases persisted state.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Responses = make([]Response, len(s.Responses))
	copy(cp.Responses, s.Responses)
	cp.Asked = append([]string(nil), s.Asked...)
	cp.Skipped = append([]string(nil), s.Skipped...)
	return &cp
}
