// Package notify holds short-lived user notifications that dismiss
// themselves after a fixed time.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL matches how long a notification stays on screen.
const DefaultTTL = 3 * time.Second

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier reports a message to the user.
type Notifier interface {
	Notify(level Level, text string)
}

type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Center keeps notifications until they expire and logs each one.
type Center struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	items []Notification
}

func NewCenter(ttl time.Duration, logger *slog.Logger) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{ttl: ttl, logger: logger, now: time.Now}
}

func (c *Center) Notify(level Level, text string) {
	now := c.now()
	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Text:      text,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.pruneLocked(now)
	c.items = append(c.items, n)
	c.mu.Unlock()

	if level == LevelError {
		c.logger.Warn("user notified", "level", level, "text", text)
	} else {
		c.logger.Info("user notified", "level", level, "text", text)
	}
}

// Active returns the notifications that have not yet been dismissed, oldest
// first.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return append([]Notification(nil), c.items...)
}

func (c *Center) pruneLocked(now time.Time) {
	kept := c.items[:0]
	for _, n := range c.items {
		if now.Before(n.ExpiresAt) {
			kept = append(kept, n)
		}
	}
	c.items = kept
}
