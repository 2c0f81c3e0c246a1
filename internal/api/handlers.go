package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oncorisk-engine/internal/domain"
)

type startSessionRequest struct {
	Type string `json:"type" binding:"required"`
}

type answerRequest struct {
	QuestionID string             `json:"question_id" binding:"required"`
	Value      domain.AnswerValue `json:"value"`

	// Confidence is the evidence weight in [0,1]. Absent means full
	// weight; an explicit 0 zeroes the answer's contribution.
	Confidence *float64 `json:"confidence"`

	// Version optionally asserts the client's view for optimistic
	// concurrency; zero skips the check.
	Version int64 `json:"version"`
}

type skipRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
}

// questionView strips catalog internals (likelihood ratios, weights,
// prerequisites) from the question presented to the client.
type questionView struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Category string   `json:"category"`
	Kind     string   `json:"kind"`
	Choices  []string `json:"choices,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

func viewOf(q *domain.Question) *questionView {
	if q == nil {
		return nil
	}
	return &questionView{
		ID:       q.ID,
		Text:     q.Text,
		Category: string(q.Category),
		Kind:     string(q.Kind),
		Choices:  q.Choices,
		Min:      q.Min,
		Max:      q.Max,
	}
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, next, err := s.machine.Start(c.Request.Context(), domain.QuestionnaireType(req.Type))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id":    sess.ID,
		"type":          sess.Type,
		"state":         sess.State,
		"version":       sess.Version,
		"next_question": viewOf(next),
	})
}

func (s *Server) handleAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	sess, next, snap, err := s.machine.Answer(c.Request.Context(), c.Param("id"), req.QuestionID, req.Value, confidence, req.Version)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    sess.ID,
		"state":         sess.State,
		"version":       sess.Version,
		"next_question": viewOf(next),
		"risk":          snap,
	})
}

func (s *Server) handleSkip(c *gin.Context) {
	var req skipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, next, err := s.machine.Skip(c.Request.Context(), c.Param("id"), req.QuestionID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    sess.ID,
		"state":         sess.State,
		"version":       sess.Version,
		"next_question": viewOf(next),
	})
}

func (s *Server) handlePause(c *gin.Context) {
	sess, err := s.machine.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"state":      sess.State,
		"version":    sess.Version,
	})
}

func (s *Server) handleResume(c *gin.Context) {
	sess, next, err := s.machine.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    sess.ID,
		"state":         sess.State,
		"version":       sess.Version,
		"next_question": viewOf(next),
	})
}

func (s *Server) handleComplete(c *gin.Context) {
	sess, snap, err := s.machine.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"state":      sess.State,
		"version":    sess.Version,
		"risk":       snap,
	})
}

func (s *Server) handleResults(c *gin.Context) {
	sess, snap, err := s.machine.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"state":      sess.State,
		"version":    sess.Version,
		"risk":       snap,
	})
}

func (s *Server) handleProgress(c *gin.Context) {
	progress, err := s.machine.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (s *Server) handleArchivedResults(c *gin.Context) {
	rec, err := s.machine.ArchivedResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleAnalyticsSummary(c *gin.Context) {
	if s.analytics == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "analytics requires the postgres archive backend"})
		return
	}
	summary, err := s.analytics.Summarize(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// renderError maps the engine's error taxonomy onto HTTP status codes.
func (s *Server) renderError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownQuestion):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrSessionExpired):
		status = http.StatusGone
	}

	if status == http.StatusInternalServerError {
		s.logger.WithField("error", err.Error()).Error("Request failed")
	}
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"retryable": domain.IsRetryable(err),
	})
}
