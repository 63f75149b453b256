package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by a dispatch session.
const (
	SubjectSessionSubmitted  = "dispatchbot.session.submitted"
	SubjectSessionDispatched = "dispatchbot.session.dispatched"
	SubjectSessionFailed     = "dispatchbot.session.failed"
	SubjectChatMessage       = "dispatchbot.chat.message"
)

// SessionEvent describes a dispatch session changing state.
type SessionEvent struct {
	SessionID      string  `json:"session_id"`
	State          string  `json:"state"`
	LoadCity       string  `json:"load_city"`
	UnloadCity     string  `json:"unload_city"`
	Price          float64 `json:"price"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Error          string  `json:"error,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// ChatEvent is emitted for every message appended to a conversation log.
type ChatEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      int    `json:"message_id"`
	Sender         string `json:"sender"`
	ReplyTo        int    `json:"reply_to,omitempty"`
	RequestToken   string `json:"request_token,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Publisher is the part of the client the session needs.
type Publisher interface {
	Publish(subject string, data any) error
}

// Nop discards every event. It is used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }

type Client struct {
	conn *nats.Conn
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("dispatchbot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Close() {
	c.conn.Close()
}
