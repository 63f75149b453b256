// Package session orchestrates one user's dispatch session: the form, the
// one-shot dispatch request, the switch into chat and the two animated
// assistant channels.
//
// A Controller moves through FormEditing, Submitting and ChatActive. A failed
// dispatch falls back to FormEditing with the form intact; nothing ever
// returns to FormEditing from ChatActive. A new session needs a new
// Controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/chat"
	"github.com/MikeSquared-Agency/dispatchbot/internal/hermes"
	"github.com/MikeSquared-Agency/dispatchbot/internal/kv"
	"github.com/MikeSquared-Agency/dispatchbot/internal/location"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
	"github.com/MikeSquared-Agency/dispatchbot/internal/typing"
)

var (
	ErrNotEditable        = errors.New("session is not editing the form")
	ErrChatInactive       = errors.New("chat is not active")
	ErrServiceUnavailable = errors.New("dispatch service unavailable")
	ErrUnknownField       = errors.New("unknown location field")
	errNoConversationID   = errors.New("response carries no conversation id")
)

// User-facing notification texts.
const (
	msgDispatchFailed = "Dispatch failed. Please try again."
	msgCitiesFailed   = "Cities could not be loaded. Please try again."
)

type State int

const (
	StateFormEditing State = iota
	StateSubmitting
	StateChatActive
)

func (s State) String() string {
	switch s {
	case StateFormEditing:
		return "form_editing"
	case StateSubmitting:
		return "submitting"
	case StateChatActive:
		return "chat_active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Field selects one of the two location inputs.
type Field string

const (
	FieldLoading   Field = "loading"
	FieldUnloading Field = "unloading"
)

// Backend is the part of the dispatcher API a session talks to.
type Backend interface {
	chat.Backend
	ListCities(ctx context.Context) ([]location.City, error)
	Dispatch(ctx context.Context, req backend.DispatchRequest) (*backend.DispatchResult, error)
}

type Controller struct {
	id       string
	backend  Backend
	store    kv.Store
	animator *typing.Animator
	chat     *chat.Manager
	notifier notify.Notifier
	events   hermes.Publisher
	logger   *slog.Logger

	mu             sync.Mutex
	state          State
	form           Form
	cities         []location.City
	citiesLoaded   bool
	filtered       map[Field][]location.City
	result         *backend.DispatchResult
	conversationID string
}

// New creates a controller in FormEditing. The controller owns animator and
// closes it in Close. events may be nil.
func New(b Backend, store kv.Store, animator *typing.Animator, n notify.Notifier, events hermes.Publisher, logger *slog.Logger) *Controller {
	if events == nil {
		events = hermes.Nop{}
	}
	c := &Controller{
		id:       uuid.NewString(),
		backend:  b,
		store:    store,
		animator: animator,
		notifier: n,
		events:   events,
		logger:   logger,
		filtered: make(map[Field][]location.City),
	}
	c.chat = chat.NewManager(b, c.ConversationID, n, events, logger)
	return c
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoadCities fetches the reference city list once. After a failure the next
// call tries again.
func (c *Controller) LoadCities(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.citiesLoaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	cities, err := c.backend.ListCities(ctx)
	if err != nil {
		c.logger.Error("failed to load cities", "session_id", c.id, "error", err)
		c.notifier.Notify(notify.LevelError, msgCitiesFailed)
		return fmt.Errorf("load cities: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.citiesLoaded {
		return nil
	}
	c.cities = cities
	c.citiesLoaded = true
	c.filtered[FieldLoading] = location.Filter(cities, "")
	c.filtered[FieldUnloading] = location.Filter(cities, "")
	c.logger.Info("cities loaded", "session_id", c.id, "count", len(cities))
	return nil
}

func (c *Controller) CitiesLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.citiesLoaded
}

// FilterCities narrows the suggestions of one location field to the cities
// matching query and returns them. The other field's suggestions are kept.
func (c *Controller) FilterCities(field Field, query string) ([]location.City, error) {
	if field != FieldLoading && field != FieldUnloading {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	res := location.Filter(c.cities, query)
	c.filtered[field] = res
	return append([]location.City(nil), res...), nil
}

// Suggestions returns the last filter result of field.
func (c *Controller) Suggestions(field Field) []location.City {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]location.City{}, c.filtered[field]...)
}

func (c *Controller) Form() Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// UpdateForm applies edit to the form. Edits are only accepted in
// FormEditing.
func (c *Controller) UpdateForm(edit func(f *Form)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFormEditing {
		return ErrNotEditable
	}
	edit(&c.form)
	return nil
}

// IsFormValid evaluates the current form.
func (c *Controller) IsFormValid() bool {
	return IsValid(c.Form())
}

// Submit sends the dispatch request built from the current form. An invalid
// form or a session outside FormEditing makes it a no-op. On success the
// session enters ChatActive and both assistant channels start typing; on
// failure it returns to FormEditing with the form untouched.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateFormEditing {
		c.mu.Unlock()
		return ErrNotEditable
	}
	form := c.form
	if err := Validate(form); err != nil {
		c.mu.Unlock()
		c.logger.Debug("submit ignored", "session_id", c.id, "reason", err)
		return err
	}
	req := backend.DispatchRequest{
		LoadAddress: backend.Address{
			City:    form.LoadingLocation,
			Country: location.CountryOf(c.cities, form.LoadingLocation),
		},
		UnloadAddress: backend.Address{
			City:    form.UnloadingLocation,
			Country: location.CountryOf(c.cities, form.UnloadingLocation),
		},
		Price: form.Price,
	}
	c.state = StateSubmitting
	c.mu.Unlock()

	c.logger.Info("submitting dispatch",
		"session_id", c.id,
		"loading_location", form.LoadingLocation,
		"loading_date", form.LoadingDate.Format(DateLayout),
		"loading_time", form.LoadingTime,
		"unloading_location", form.UnloadingLocation,
		"unloading_date", form.UnloadingDate.Format(DateLayout),
		"unloading_time", form.UnloadingTime,
		"price", form.Price,
	)
	c.publish(hermes.SubjectSessionSubmitted, StateSubmitting, req, "", nil)

	res, err := c.backend.Dispatch(ctx, req)
	if err == nil && res.ConversationID == "" {
		err = errNoConversationID
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateFormEditing
		c.mu.Unlock()

		c.logger.Error("dispatch failed", "session_id", c.id, "error", err)
		c.notifier.Notify(notify.LevelError, msgDispatchFailed)
		c.publish(hermes.SubjectSessionFailed, StateFormEditing, req, "", err)
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	if err := c.store.Set(kv.KeyConversationID, res.ConversationID); err != nil {
		c.logger.Warn("failed to cache conversation id", "session_id", c.id, "error", err)
	}

	result := *res
	c.mu.Lock()
	c.result = &result
	c.conversationID = result.ConversationID
	c.state = StateChatActive
	c.mu.Unlock()

	c.animator.Start(typing.ChannelDirect, result.DirectMessage)
	c.animator.Start(typing.ChannelReasoning, result.Reason)

	c.logger.Info("dispatch successful", "session_id", c.id, "conversation_id", result.ConversationID)
	c.publish(hermes.SubjectSessionDispatched, StateChatActive, req, result.ConversationID, nil)
	return nil
}

// Resume continues the conversation cached by an earlier session instead of
// dispatching. It reports false and changes nothing when no id is cached or
// the session has left FormEditing.
func (c *Controller) Resume() bool {
	id, ok := c.store.Get(kv.KeyConversationID)
	if !ok || id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFormEditing {
		return false
	}
	c.conversationID = id
	c.state = StateChatActive
	c.logger.Info("resumed conversation", "session_id", c.id, "conversation_id", id)
	return true
}

// ConversationID is empty until a dispatch succeeds or a session is resumed.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Result returns the dispatch response, or nil before a successful submit.
func (c *Controller) Result() *backend.DispatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

// SendMessage hands a chat message to the conversation once chat is active.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if c.State() != StateChatActive {
		return ErrChatInactive
	}
	return c.chat.Send(ctx, text)
}

func (c *Controller) Chat() *chat.Manager { return c.chat }

func (c *Controller) Animator() *typing.Animator { return c.animator }

// Close stops the typing channels.
func (c *Controller) Close() {
	c.animator.Close()
}

func (c *Controller) publish(subject string, state State, req backend.DispatchRequest, conversationID string, cause error) {
	evt := hermes.SessionEvent{
		SessionID:      c.id,
		State:          state.String(),
		LoadCity:       req.LoadAddress.City,
		UnloadCity:     req.UnloadAddress.City,
		Price:          req.Price,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := c.events.Publish(subject, evt); err != nil {
		c.logger.Warn("failed to publish session event", "subject", subject, "error", err)
	}
}
