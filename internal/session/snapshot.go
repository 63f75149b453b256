package session

import (
	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/chat"
	"github.com/MikeSquared-Agency/dispatchbot/internal/location"
	"github.com/MikeSquared-Agency/dispatchbot/internal/typing"
)

type ChannelView struct {
	Text   string `json:"text"`
	Active bool   `json:"active"`
}

// Snapshot is a consistent-enough view of the session for rendering.
type Snapshot struct {
	SessionID      string                    `json:"session_id"`
	State          State                     `json:"state"`
	Form           Form                      `json:"form"`
	FormValid      bool                      `json:"form_valid"`
	CitiesLoaded   bool                      `json:"cities_loaded"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Result         *backend.DispatchResult   `json:"result,omitempty"`
	Suggestions    map[Field][]location.City `json:"suggestions"`
	Direct         ChannelView               `json:"direct"`
	Reasoning      ChannelView               `json:"reasoning"`
	Messages       []chat.Message            `json:"messages"`
	Pending        string                    `json:"pending"`
	AwaitingReply  bool                      `json:"awaiting_reply"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		SessionID:      c.id,
		State:          c.state,
		Form:           c.form,
		CitiesLoaded:   c.citiesLoaded,
		ConversationID: c.conversationID,
	}
	c.mu.Unlock()

	s.FormValid = IsValid(s.Form)
	s.Result = c.Result()
	s.Suggestions = map[Field][]location.City{
		FieldLoading:   c.Suggestions(FieldLoading),
		FieldUnloading: c.Suggestions(FieldUnloading),
	}
	s.Direct = c.channel(typing.ChannelDirect)
	s.Reasoning = c.channel(typing.ChannelReasoning)
	s.Messages = c.chat.Messages()
	if s.Messages == nil {
		s.Messages = []chat.Message{}
	}
	s.Pending = c.chat.Pending()
	s.AwaitingReply = c.chat.InFlight() > 0
	return s
}

func (c *Controller) channel(ch typing.Channel) ChannelView {
	return ChannelView{Text: c.animator.Text(ch), Active: c.animator.Active(ch)}
}
