package bundle

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldViolation is one rejected request field
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RequestValidationError lists every invalid field of a request. It matches
// both bundle.ErrInvalidRequest and shared.ErrInvalidInput.
type RequestValidationError struct {
	Violations []FieldViolation
}

func (e *RequestValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *RequestValidationError) Unwrap() []error {
	return []error{bundle.ErrInvalidRequest, shared.ErrInvalidInput}
}

func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", bundle.ErrInvalidRequest, err)
	}
	out := &RequestValidationError{Violations: make([]FieldViolation, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Violations = append(out.Violations, FieldViolation{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return out
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "max":
		if e.Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	default:
		return "Invalid value"
	}
}
