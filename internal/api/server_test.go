package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/dispatchbot/internal/account"
	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/kv"
	"github.com/MikeSquared-Agency/dispatchbot/internal/locale"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
	"github.com/MikeSquared-Agency/dispatchbot/internal/session"
	"github.com/MikeSquared-Agency/dispatchbot/internal/typing"
)

// dispatcher fakes the upstream dispatcher API.
type dispatcher struct {
	mu           sync.Mutex
	failDispatch bool
	delay        time.Duration
	dispatches   []backend.DispatchRequest
}

func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method + " " + r.URL.Path {
	case "GET /api/dispatcher/cities":
		json.NewEncoder(w).Encode([]map[string]any{
			{"city": "Rome", "country": "Italy", "latitude": 41.9, "longitude": 12.5},
			{"city": "Berlin", "country": "Germany", "latitude": 52.5, "longitude": 13.4},
		})
	case "POST /api/dispatcher":
		var req backend.DispatchRequest
		json.NewDecoder(r.Body).Decode(&req)
		d.mu.Lock()
		d.dispatches = append(d.dispatches, req)
		fail, delay := d.failDispatch, d.delay
		d.mu.Unlock()
		time.Sleep(delay)
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"direct_message":                     "M1",
			"reason_why_you_choose_this_partner": "M2",
			"id_conversation":                    "c1",
		})
	case "PATCH /api/dispatcher":
		d.mu.Lock()
		delay := d.delay
		d.mu.Unlock()
		time.Sleep(delay)
		var req backend.MessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]string{"message": "echo " + req.Message})
	case "POST /api/users/register", "POST /api/users/login":
		w.Write([]byte(`{"ok":true}`))
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	srv      *Server
	upstream *dispatcher
	store    *kv.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	upstream := &dispatcher{}
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := backend.NewClient(up.URL, 5*time.Second)
	store := kv.NewMemoryStore()
	notices := notify.NewCenter(time.Minute, logger)
	ctrl := session.New(client, store, typing.New(time.Millisecond, nil), notices, nil, logger)
	t.Cleanup(ctrl.Close)

	srv := NewServer(8760, "*", ctrl,
		account.NewService(client, store, notices, logger),
		locale.NewPreferences(store),
		notices, logger)
	return &testEnv{srv: srv, upstream: upstream, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	e.srv.router.ServeHTTP(w, req)
	return w
}

// doWithin issues the request with a context that expires after timeout,
// the way a client that hangs up mid-call looks to a handler.
func (e *testEnv) doWithin(t *testing.T, timeout time.Duration, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req := httptest.NewRequest(method, path, rd).WithContext(ctx)
	w := httptest.NewRecorder()
	e.srv.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

var validForm = map[string]any{
	"loading_location":   "Rome",
	"loading_date":       "2024-10-01",
	"loading_time":       "08:00",
	"unloading_location": "Berlin",
	"unloading_date":     "2024-10-02",
	"unloading_time":     "18:30",
	"price":              500,
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	decodeBody(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, "GET", "/nonexistent", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSlotsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/slots", nil)
	var body map[string][]string
	decodeBody(t, w, &body)
	if len(body["slots"]) != 48 {
		t.Errorf("expected 48 slots, got %d", len(body["slots"]))
	}
}

func TestCitiesEndpoint(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/cities?field=unloading&q=ber", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Field  string `json:"field"`
		Cities []struct {
			City string `json:"city"`
		} `json:"cities"`
	}
	decodeBody(t, w, &body)
	if body.Field != "unloading" || len(body.Cities) != 1 || body.Cities[0].City != "Berlin" {
		t.Errorf("unexpected response: %+v", body)
	}

	if w := e.do(t, "GET", "/api/v1/cities?field=middle", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown field, got %d", w.Code)
	}
}

func TestSubmitFlow(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, "POST", "/api/v1/session/submit", nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty form, got %d", w.Code)
	}

	e.do(t, "GET", "/api/v1/cities", nil)
	if w := e.do(t, "PUT", "/api/v1/session/form", validForm); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on form update, got %d: %s", w.Code, w.Body.String())
	}

	w := e.do(t, "POST", "/api/v1/session/submit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		State          string `json:"state"`
		ConversationID string `json:"conversation_id"`
		Form           struct {
			LoadingDate string `json:"loading_date"`
		} `json:"form"`
	}
	decodeBody(t, w, &body)
	if body.State != "chat_active" || body.ConversationID != "c1" {
		t.Errorf("unexpected session after submit: %+v", body)
	}
	if body.Form.LoadingDate != "2024-10-01" {
		t.Errorf("expected form date echoed as 2024-10-01, got %q", body.Form.LoadingDate)
	}

	e.upstream.mu.Lock()
	got := e.upstream.dispatches
	e.upstream.mu.Unlock()
	if len(got) != 1 || got[0].LoadAddress.Country != "Italy" || got[0].UnloadAddress.Country != "Germany" {
		t.Errorf("unexpected upstream dispatches: %+v", got)
	}

	if w := e.do(t, "PUT", "/api/v1/session/form", validForm); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for edits after dispatch, got %d", w.Code)
	}

	w = e.do(t, "POST", "/api/v1/session/messages", map[string]string{"text": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var msgs struct {
		Messages []struct {
			Sender string `json:"sender"`
			Text   string `json:"text"`
		} `json:"messages"`
	}
	decodeBody(t, w, &msgs)
	if len(msgs.Messages) != 2 || msgs.Messages[1].Text != "echo hi" {
		t.Errorf("unexpected messages: %+v", msgs.Messages)
	}

	if w := e.do(t, "POST", "/api/v1/session/messages", map[string]string{"text": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank message, got %d", w.Code)
	}
}

func TestSubmitFailure(t *testing.T) {
	e := newTestEnv(t)
	e.upstream.failDispatch = true

	e.do(t, "PUT", "/api/v1/session/form", validForm)
	w := e.do(t, "POST", "/api/v1/session/submit", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	w = e.do(t, "GET", "/api/v1/session", nil)
	var body struct {
		State         string `json:"state"`
		Notifications []struct {
			Level string `json:"level"`
		} `json:"notifications"`
		Form struct {
			LoadingLocation string  `json:"loading_location"`
			Price           float64 `json:"price"`
		} `json:"form"`
	}
	decodeBody(t, w, &body)
	if body.State != "form_editing" {
		t.Errorf("expected form_editing, got %q", body.State)
	}
	if body.Form.LoadingLocation != "Rome" || body.Form.Price != 500 {
		t.Errorf("form should survive the failure: %+v", body.Form)
	}
	if len(body.Notifications) != 1 || body.Notifications[0].Level != "error" {
		t.Errorf("expected one error notification, got %+v", body.Notifications)
	}
	if _, ok := e.store.Get(kv.KeyConversationID); ok {
		t.Error("conversation id must not be cached")
	}
}

func TestMessagesBeforeChat(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/session/messages", map[string]string{"text": "hi"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestResumeEndpoint(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, "POST", "/api/v1/session/resume", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without cached conversation, got %d", w.Code)
	}
	e.store.Set(kv.KeyConversationID, "c-old")
	if w := e.do(t, "POST", "/api/v1/session/resume", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestFormBadDate(t *testing.T) {
	e := newTestEnv(t)
	form := map[string]any{"loading_date": "01/10/2024"}
	if w := e.do(t, "PUT", "/api/v1/session/form", form); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAccountEndpoints(t *testing.T) {
	e := newTestEnv(t)

	bad := map[string]string{"username": "mario"}
	if w := e.do(t, "POST", "/api/v1/account/register", bad); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for incomplete registration, got %d", w.Code)
	}

	reg := map[string]string{
		"username":  "mario",
		"full_name": "Mario Rossi",
		"email":     "mario@example.com",
		"password":  "pw",
	}
	if w := e.do(t, "POST", "/api/v1/account/register", reg); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w := e.do(t, "GET", "/api/v1/account/username", nil)
	var body map[string]string
	decodeBody(t, w, &body)
	if body["username"] != "mario" {
		t.Errorf("expected remembered username mario, got %q", body["username"])
	}

	login := map[string]string{"username": "mario", "password": "pw"}
	if w := e.do(t, "POST", "/api/v1/account/login", login); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestLanguageEndpoints(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/api/v1/preferences/language", nil)
	var body struct {
		Language  string `json:"language"`
		Supported []struct {
			Code string `json:"code"`
		} `json:"supported"`
	}
	decodeBody(t, w, &body)
	if body.Language != "en" || len(body.Supported) != 3 {
		t.Errorf("unexpected language response: %+v", body)
	}

	if w := e.do(t, "PUT", "/api/v1/preferences/language", map[string]string{"language": "de"}); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if v, _ := e.store.Get(kv.KeyLanguage); v != "de" {
		t.Errorf("expected de persisted, got %q", v)
	}
	if w := e.do(t, "PUT", "/api/v1/preferences/language", map[string]string{"language": "fr"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported language, got %d", w.Code)
	}
}

func TestPendingEndpoint(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, "PUT", "/api/v1/session/pending", map[string]string{"text": "half a thou"}); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w := e.do(t, "GET", "/api/v1/session", nil)
	var body map[string]any
	decodeBody(t, w, &body)
	if body["pending"] != "half a thou" {
		t.Errorf("expected pending text, got %v", body["pending"])
	}
}

func TestSubmitSurvivesClientCancel(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "GET", "/api/v1/cities", nil)
	e.do(t, "PUT", "/api/v1/session/form", validForm)

	e.upstream.mu.Lock()
	e.upstream.delay = 200 * time.Millisecond
	e.upstream.mu.Unlock()

	w := e.doWithin(t, 50*time.Millisecond, "POST", "/api/v1/session/submit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after client cancel, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		State          string `json:"state"`
		ConversationID string `json:"conversation_id"`
	}
	decodeBody(t, e.do(t, "GET", "/api/v1/session", nil), &body)
	if body.State != "chat_active" || body.ConversationID != "c1" {
		t.Errorf("dispatch result should be kept, got %+v", body)
	}
	if v, _ := e.store.Get(kv.KeyConversationID); v != "c1" {
		t.Errorf("expected cached conversation c1, got %q", v)
	}

	e.upstream.mu.Lock()
	served := len(e.upstream.dispatches)
	e.upstream.mu.Unlock()
	if served != 1 {
		t.Errorf("expected exactly one dispatch, got %d", served)
	}
}

func TestSendMessageSurvivesClientCancel(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "PUT", "/api/v1/session/form", validForm)
	if w := e.do(t, "POST", "/api/v1/session/submit", nil); w.Code != http.StatusOK {
		t.Fatalf("submit: %d", w.Code)
	}

	e.upstream.mu.Lock()
	e.upstream.delay = 200 * time.Millisecond
	e.upstream.mu.Unlock()

	w := e.doWithin(t, 50*time.Millisecond, "POST", "/api/v1/session/messages", map[string]string{"text": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after client cancel, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
	}
	decodeBody(t, e.do(t, "GET", "/api/v1/session", nil), &body)
	if len(body.Messages) != 2 || body.Messages[1].Text != "echo hi" {
		t.Errorf("reply should be appended, got %+v", body.Messages)
	}
}
