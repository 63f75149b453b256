package session

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MikeSquared-Agency/dispatchbot/internal/validation"
)

// DateLayout is how form dates are written in logs and accepted by the API.
const DateLayout = "2006-01-02"

var ErrFormIncomplete = errors.New("dispatch form is incomplete")

// Form is what the user fills in before a dispatch. Every location, date and
// time is required and the price must be positive.
type Form struct {
	LoadingLocation   string    `json:"loading_location" validate:"required"`
	LoadingDate       time.Time `json:"loading_date" validate:"required"`
	LoadingTime       string    `json:"loading_time" validate:"required"`
	UnloadingLocation string    `json:"unloading_location" validate:"required"`
	UnloadingDate     time.Time `json:"unloading_date" validate:"required"`
	UnloadingTime     string    `json:"unloading_time" validate:"required"`
	Price             float64   `json:"price" validate:"gt=0"`
}

// ValidationError lists the form fields that block a submit.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return ErrFormIncomplete.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrFormIncomplete }

var validate = validation.New()

// Validate checks f from scratch; nothing is cached between calls.
func Validate(f Form) error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []string{err.Error()}}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &ValidationError{Fields: fields}
}

// IsValid reports whether f may be submitted.
func IsValid(f Form) bool {
	return Validate(f) == nil
}
