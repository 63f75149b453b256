// Package chat keeps the conversation log of an active dispatch session and
// relays follow-up messages to the dispatcher.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/hermes"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoConversation = errors.New("no conversation id")
)

// fallbackPrefix builds the assistant text when a reply carries no message.
const fallbackPrefix = "This is a bot response to: "

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the conversation log. IDs grow strictly in append
// order. ReplyTo links an assistant message to the user message it answers.
type Message struct {
	ID        int       `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   int       `json:"reply_to,omitempty"`
}

// Backend sends a message to an existing conversation.
type Backend interface {
	SendMessage(ctx context.Context, req backend.MessageRequest) (*backend.MessageReply, error)
}

type Manager struct {
	backend      Backend
	conversation func() string
	notifier     notify.Notifier
	events       hermes.Publisher
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	log      []Message
	lastID   int
	pending  string
	inFlight int
}

// NewManager creates an empty log. conversation is read on every send and
// returns the id the messages are tagged with.
func NewManager(b Backend, conversation func() string, n notify.Notifier, events hermes.Publisher, logger *slog.Logger) *Manager {
	if events == nil {
		events = hermes.Nop{}
	}
	return &Manager{
		backend:      b,
		conversation: conversation,
		notifier:     n,
		events:       events,
		logger:       logger,
		now:          time.Now,
	}
}

// Send appends text as a user message, clears the pending input and relays
// it to the dispatcher. The assistant reply is appended when it arrives. On
// failure the user message stays in the log and nothing is retried.
func (m *Manager) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		m.logger.Debug("ignoring empty chat message")
		return ErrEmptyMessage
	}
	conversationID := m.conversation()
	if conversationID == "" {
		return ErrNoConversation
	}

	token := uuid.NewString()

	m.mu.Lock()
	userMsg := m.appendLocked(SenderUser, text, 0)
	m.pending = ""
	m.inFlight++
	m.mu.Unlock()
	m.publish(conversationID, userMsg, token)

	reply, err := m.backend.SendMessage(backend.WithRequestID(ctx, token), backend.MessageRequest{
		Message:        text,
		ConversationID: conversationID,
	})

	if err != nil {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
		m.logger.Error("send message failed", "conversation_id", conversationID, "message_id", userMsg.ID, "error", err)
		m.notifier.Notify(notify.LevelError, "Message could not be sent. Please try again.")
		return fmt.Errorf("send message: %w", err)
	}

	answer := reply.Message
	if answer == "" {
		answer = fallbackPrefix + text
	}

	m.mu.Lock()
	m.inFlight--
	botMsg := m.appendLocked(SenderAssistant, answer, userMsg.ID)
	m.mu.Unlock()
	m.publish(conversationID, botMsg, token)

	return nil
}

// Messages returns a copy of the log in display order.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.log...)
}

// SetPending stores what the user is typing but has not sent yet.
func (m *Manager) SetPending(text string) {
	m.mu.Lock()
	m.pending = text
	m.mu.Unlock()
}

func (m *Manager) Pending() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// InFlight is the number of sends still waiting for a reply.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

func (m *Manager) appendLocked(sender Sender, text string, replyTo int) Message {
	m.lastID++
	msg := Message{
		ID:        m.lastID,
		Sender:    sender,
		Text:      text,
		Timestamp: m.now(),
		ReplyTo:   replyTo,
	}
	m.log = append(m.log, msg)
	return msg
}

func (m *Manager) publish(conversationID string, msg Message, token string) {
	err := m.events.Publish(hermes.SubjectChatMessage, hermes.ChatEvent{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Sender:         string(msg.Sender),
		ReplyTo:        msg.ReplyTo,
		RequestToken:   token,
		Timestamp:      msg.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		m.logger.Warn("failed to publish chat event", "message_id", msg.ID, "error", err)
	}
}
