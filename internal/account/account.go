// Package account runs the registration and login flow in front of the
// dispatcher's user API and remembers the last registered username.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/kv"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
	"github.com/MikeSquared-Agency/dispatchbot/internal/validation"
)

var ErrInvalidRequest = errors.New("invalid request")

// User-facing notification texts.
const (
	msgRegistered     = "Registration successful. Please login."
	msgRegisterFailed = "Registration failed. Please try again."
	msgLoggedIn       = "Login Successful!"
	msgLoginFailed    = "Login failed. Please try again."
)

var validate = validation.New()

type Backend interface {
	Register(ctx context.Context, req backend.RegisterRequest) (json.RawMessage, error)
	Login(ctx context.Context, req backend.LoginRequest) (json.RawMessage, error)
}

type Service struct {
	backend  Backend
	store    kv.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewService(b Backend, store kv.Store, n notify.Notifier, logger *slog.Logger) *Service {
	return &Service{backend: b, store: store, notifier: n, logger: logger}
}

// Register creates the account and remembers the username for the next login.
func (s *Service) Register(ctx context.Context, req backend.RegisterRequest) error {
	if err := check(req); err != nil {
		return err
	}
	if _, err := s.backend.Register(ctx, req); err != nil {
		s.logger.Error("registration failed", "username", req.Username, "error", err)
		s.notifier.Notify(notify.LevelError, msgRegisterFailed)
		return fmt.Errorf("register: %w", err)
	}
	if err := s.store.Set(kv.KeyUsername, req.Username); err != nil {
		s.logger.Warn("failed to remember username", "error", err)
	}
	s.logger.Info("registration successful", "username", req.Username)
	s.notifier.Notify(notify.LevelSuccess, msgRegistered)
	return nil
}

func (s *Service) Login(ctx context.Context, req backend.LoginRequest) error {
	if err := check(req); err != nil {
		return err
	}
	if _, err := s.backend.Login(ctx, req); err != nil {
		s.logger.Error("login failed", "username", req.Username, "error", err)
		s.notifier.Notify(notify.LevelError, msgLoginFailed)
		return fmt.Errorf("login: %w", err)
	}
	s.logger.Info("login successful", "username", req.Username)
	s.notifier.Notify(notify.LevelSuccess, msgLoggedIn)
	return nil
}

// RememberedUsername prefills the login form.
func (s *Service) RememberedUsername() string {
	v, _ := s.store.Get(kv.KeyUsername)
	return v
}

func check(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
}
