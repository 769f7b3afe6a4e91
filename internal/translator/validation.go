package translator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrEmptyMessages is reported before any upstream call is attempted.
	ErrEmptyMessages  = errors.New("at least one message is required")
	errInvalidContent = errors.New("invalid message content")
)

// ValidationError is returned for requests that must be rejected with a
// client error.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the request against its struct constraints.
func (r ChatCompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return &ValidationError{Field: "messages", Err: ErrEmptyMessages}
	}

	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Err: err}
	}

	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "ChatCompletionRequest.")
	return &ValidationError{Field: field, Err: describe(fe)}
}

func describe(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return errors.New("is required")
	case "min":
		return fmt.Errorf("must contain at least %s item(s)", fe.Param())
	case "gte":
		return fmt.Errorf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Errorf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Errorf("failed %q validation", fe.Tag())
	}
}
