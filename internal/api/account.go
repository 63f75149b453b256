package api

import (
	"errors"
	"net/http"

	"github.com/MikeSquared-Agency/dispatchbot/internal/account"
	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/locale"
)

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req backend.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.accounts.Register(r.Context(), req); err != nil {
		s.accountError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered", "username": req.Username})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req backend.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.accounts.Login(r.Context(), req); err != nil {
		s.accountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) username(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": s.accounts.RememberedUsername()})
}

func (s *Server) accountError(w http.ResponseWriter, err error) {
	if errors.Is(err, account.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, "account service unavailable")
}

func (s *Server) language(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"language":  s.prefs.Language(),
		"supported": locale.Supported,
	})
}

func (s *Server) setLanguage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.prefs.SetLanguage(body.Language); err != nil {
		if errors.Is(err, locale.ErrUnsupportedLanguage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"language": body.Language})
}
