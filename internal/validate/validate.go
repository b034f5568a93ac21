// Package validate wraps go-playground/validator with the planning rules
// shared by tasks, components and baselines.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidProgressRange is returned when a progress percent is outside 0–100.
	ErrInvalidProgressRange = errors.New("progress must be between 0 and 100")
	// ErrInvalidInput is returned for any other struct validation failure.
	ErrInvalidInput = errors.New("invalid input")
)

// global validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("progress", validateProgress)
}

func validateProgress(fl validator.FieldLevel) bool {
	v := fl.Field().Float()
	return v >= 0 && v <= 100
}

// Progress checks a single progress value.
func Progress(v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidProgressRange, v)
	}
	return nil
}

// Struct performs validation on any struct that has validation tags.
// Progress failures take precedence and unwrap to ErrInvalidProgressRange.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var messages []string
	for _, e := range validationErrors {
		if e.Tag() == "progress" {
			return fmt.Errorf("%w: field %s = %v", ErrInvalidProgressRange, e.Field(), e.Value())
		}
		messages = append(messages, fmt.Sprintf("field '%s' failed rule '%s' (value: '%v')", e.Field(), e.Tag(), e.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(messages, "; "))
}
