package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"quiz-attempt-service/internal/app"
)

const (
	userHeader  = "X-User-ID"
	adminHeader = "X-Admin-Token"
)

type ctxKey struct{}

// Server exposes the attempt use cases over REST and websockets.
type Server struct {
	service    *app.AttemptService
	ws         *WSHandler
	adminToken string
	logger     *slog.Logger
	validate   *validator.Validate
}

func NewServer(service *app.AttemptService, adminToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:    service,
		ws:         NewWSHandler(service, logger),
		adminToken: adminToken,
		logger:     logger,
		validate:   validator.New(),
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", s.ws.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/quizzes/{quizID}/attempts", s.handleStart)
		r.Get("/attempts/{attemptID}", s.handleGet)
		r.Put("/attempts/{attemptID}/answers/{questionID}", s.handleAnswer)
		r.Post("/attempts/{attemptID}/submit", s.handleSubmit)
		r.Post("/attempts/{attemptID}/expire", s.handleExpire)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/sweep", s.handleSweep)
		r.Post("/attempts/{attemptID}/reviews", s.handleReview)
	})
	return r
}

// requireUser reads the caller's identity, set by the gateway in front of the service.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + userHeader})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(adminHeader)
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) string {
	userID, _ := ctx.Value(ctxKey{}).(string)
	return userID
}
