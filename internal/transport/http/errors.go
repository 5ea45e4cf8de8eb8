package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"quiz-attempt-service/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Count int    `json:"count,omitempty"`
	Max   int    `json:"max,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

// statusFor maps use-case errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAnswerPayload),
		errors.Is(err, domain.ErrInvalidReview):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAttemptLimitExceeded),
		errors.Is(err, domain.ErrAttemptClosed),
		errors.Is(err, domain.ErrNotReviewable),
		errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidQuiz):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	var limitErr *domain.AttemptLimitError
	if errors.As(err, &limitErr) {
		body.Count, body.Max = limitErr.Count, limitErr.Max
	}
	writeJSON(w, status, body)
}
