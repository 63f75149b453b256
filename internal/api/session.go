package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/dispatchbot/internal/chat"
	"github.com/MikeSquared-Agency/dispatchbot/internal/location"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
	"github.com/MikeSquared-Agency/dispatchbot/internal/session"
	"github.com/MikeSquared-Agency/dispatchbot/internal/slots"
)

// formBody is the form as the UI sends it, dates as YYYY-MM-DD.
type formBody struct {
	LoadingLocation   string  `json:"loading_location"`
	LoadingDate       string  `json:"loading_date"`
	LoadingTime       string  `json:"loading_time"`
	UnloadingLocation string  `json:"unloading_location"`
	UnloadingDate     string  `json:"unloading_date"`
	UnloadingTime     string  `json:"unloading_time"`
	Price             float64 `json:"price"`
}

type sessionResponse struct {
	session.Snapshot
	Form          formBody              `json:"form"`
	Notifications []notify.Notification `json:"notifications"`
	Language      string                `json:"language"`
}

type textBody struct {
	Text string `json:"text"`
}

func (s *Server) slots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"slots": slots.Generate()})
}

func (s *Server) cities(w http.ResponseWriter, r *http.Request) {
	field := session.Field(r.URL.Query().Get("field"))
	if field == "" {
		field = session.FieldLoading
	}
	if !s.session.CitiesLoaded() {
		if err := s.session.LoadCities(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "cities unavailable")
			return
		}
	}
	cities, err := s.session.FilterCities(field, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cities == nil {
		cities = []location.City{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"field": field, "cities": cities})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) updateForm(w http.ResponseWriter, r *http.Request) {
	var body formBody
	if !decode(w, r, &body) {
		return
	}
	form, err := body.toForm()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.session.UpdateForm(func(f *session.Form) { *f = form }); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	// Once issued, a dispatch runs to completion even if the client goes
	// away; the backend client's timeout still bounds it.
	err := s.session.Submit(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.view())
	case errors.Is(err, session.ErrFormIncomplete):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrNotEditable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, session.ErrServiceUnavailable.Error())
	}
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	if !s.session.Resume() {
		writeError(w, http.StatusNotFound, "no conversation to resume")
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) updatePending(w http.ResponseWriter, r *http.Request) {
	var body textBody
	if !decode(w, r, &body) {
		return
	}
	s.session.Chat().SetPending(body.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body textBody
	if !decode(w, r, &body) {
		return
	}
	err := s.session.SendMessage(context.WithoutCancel(r.Context()), body.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"messages": s.session.Chat().Messages()})
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrChatInactive), errors.Is(err, chat.ErrNoConversation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, "message could not be sent")
	}
}

func (s *Server) view() sessionResponse {
	snap := s.session.Snapshot()
	return sessionResponse{
		Snapshot:      snap,
		Form:          fromForm(snap.Form),
		Notifications: s.notices.Active(),
		Language:      s.prefs.Language(),
	}
}

func (b formBody) toForm() (session.Form, error) {
	loading, err := parseDate(b.LoadingDate)
	if err != nil {
		return session.Form{}, fmt.Errorf("loading_date: %w", err)
	}
	unloading, err := parseDate(b.UnloadingDate)
	if err != nil {
		return session.Form{}, fmt.Errorf("unloading_date: %w", err)
	}
	return session.Form{
		LoadingLocation:   b.LoadingLocation,
		LoadingDate:       loading,
		LoadingTime:       b.LoadingTime,
		UnloadingLocation: b.UnloadingLocation,
		UnloadingDate:     unloading,
		UnloadingTime:     b.UnloadingTime,
		Price:             b.Price,
	}, nil
}

func fromForm(f session.Form) formBody {
	return formBody{
		LoadingLocation:   f.LoadingLocation,
		LoadingDate:       formatDate(f.LoadingDate),
		LoadingTime:       f.LoadingTime,
		UnloadingLocation: f.UnloadingLocation,
		UnloadingDate:     formatDate(f.UnloadingDate),
		UnloadingTime:     f.UnloadingTime,
		Price:             f.Price,
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(session.DateLayout, s)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(session.DateLayout)
}
