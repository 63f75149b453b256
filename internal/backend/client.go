// Package backend is the HTTP boundary to the dispatcher API: account
// registration and login, the reference city list, dispatch requests and
// follow-up chat messages.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dispatchbot/internal/location"
)

const (
	pathRegister   = "/api/users/register"
	pathLogin      = "/api/users/login"
	pathCities     = "/api/dispatcher/cities"
	pathDispatcher = "/api/dispatcher"
)

// DefaultTimeout bounds every call when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type RegisterRequest struct {
	Username    string `json:"username" validate:"required"`
	FullName    string `json:"full_name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type Address struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

type DispatchRequest struct {
	LoadAddress   Address `json:"load_address"`
	UnloadAddress Address `json:"unload_address"`
	Price         float64 `json:"price"`
}

type DispatchResult struct {
	DirectMessage  string `json:"direct_message"`
	Reason         string `json:"reason_why_you_choose_this_partner"`
	ConversationID string `json:"id_conversation"`
}

type MessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"id_conversation"`
}

type MessageReply struct {
	Message string `json:"message,omitempty"`
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Call   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Call, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Call, e.Status, e.Body)
}

type requestIDKey struct{}

// WithRequestID tags the calls made with ctx with id instead of a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Register creates a user account. The success payload is returned as-is.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, "register", http.MethodPost, pathRegister, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login authenticates a user. The success payload is returned as-is.
func (c *Client) Login(ctx context.Context, req LoginRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, "login", http.MethodPost, pathLogin, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCities fetches the reference city list.
func (c *Client) ListCities(ctx context.Context) ([]location.City, error) {
	var out []location.City
	if err := c.do(ctx, "list cities", http.MethodGet, pathCities, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Dispatch asks the dispatcher to match a partner for a load.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	var out DispatchResult
	if err := c.do(ctx, "dispatch", http.MethodPost, pathDispatcher, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts a follow-up chat message to an existing conversation.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (*MessageReply, error) {
	var out MessageReply
	if err := c.do(ctx, "send message", http.MethodPatch, pathDispatcher, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, call, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", call, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", call, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", call, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", call, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Call: call, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", call, err)
	}
	return nil
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
