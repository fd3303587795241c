package order

import (
	"errors"
	"fmt"

	"order-automation-go/internal/condition"
)

// ValidationError names the parameter that made an order template invalid.
type ValidationError struct {
	Type   Type
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s order: %s %s", e.Type, e.Field, e.Reason)
}

func missing(t Type, field string) error {
	return &ValidationError{Type: t, Field: field, Reason: "is required"}
}

func invalid(t Type, field, reason string) error {
	return &ValidationError{Type: t, Field: field, Reason: reason}
}

// conditionError rewrites a condition tree error so Field points into params.
func conditionError(t Type, field string, err error) error {
	var fe *condition.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Type: t, Field: field + "." + fe.Path, Reason: fe.Reason}
	}
	return &ValidationError{Type: t, Field: field, Reason: err.Error()}
}
