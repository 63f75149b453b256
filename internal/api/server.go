package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MikeSquared-Agency/dispatchbot/internal/account"
	"github.com/MikeSquared-Agency/dispatchbot/internal/locale"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
	"github.com/MikeSquared-Agency/dispatchbot/internal/session"
)

type Server struct {
	router   *chi.Mux
	port     int
	session  *session.Controller
	accounts *account.Service
	prefs    *locale.Preferences
	notices  *notify.Center
	logger   *slog.Logger
}

func NewServer(port int, allowedOrigin string, ctrl *session.Controller, accounts *account.Service, prefs *locale.Preferences, notices *notify.Center, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	s := &Server{
		router:   router,
		port:     port,
		session:  ctrl,
		accounts: accounts,
		prefs:    prefs,
		notices:  notices,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/slots", s.slots)
		r.Get("/cities", s.cities)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.snapshot)
			r.Put("/form", s.updateForm)
			r.Post("/submit", s.submit)
			r.Post("/resume", s.resume)
			r.Put("/pending", s.updatePending)
			r.Post("/messages", s.sendMessage)
		})

		r.Route("/account", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Get("/username", s.username)
		})

		r.Get("/preferences/language", s.language)
		r.Put("/preferences/language", s.setLanguage)
	})

	return s
}

func (s *Server) Router() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}
