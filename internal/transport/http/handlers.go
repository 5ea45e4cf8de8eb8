package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"quiz-attempt-service/internal/domain"
)

const maxBodyBytes = 1 << 20

type reviewRequest struct {
	QuestionID string           `json:"questionId" validate:"required"`
	ReviewerID string           `json:"reviewerId" validate:"required"`
	Earned     *decimal.Decimal `json:"earned" validate:"required"`
}

type sweepResponse struct {
	Settled int    `json:"settled"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Start(r.Context(), userFrom(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttemptView(state))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Get(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttemptView(state))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		return
	}
	answer, err := domain.DecodeAnswer(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.service.RecordAnswer(r.Context(),
		userFrom(r.Context()),
		chi.URLParam(r, "attemptID"),
		chi.URLParam(r, "questionID"),
		answer,
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Submit(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttemptView(state))
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Expire(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttemptView(state))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	settled, err := s.service.SweepExpired(r.Context())
	if err != nil {
		s.logger.Error("sweep failed", "settled", settled, "error", err)
		writeJSON(w, http.StatusInternalServerError, sweepResponse{Settled: settled, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Settled: settled})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid review body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	attempt, err := s.service.ApplyManualReview(r.Context(),
		chi.URLParam(r, "attemptID"), req.QuestionID, req.ReviewerID, *req.Earned)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttemptView(s.service.State(attempt)))
}
