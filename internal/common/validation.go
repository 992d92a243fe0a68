package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// ValidationErrors flattens a validator error into ValidationError values.
// Secrets are never echoed back.
func ValidationErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err == nil {
			return nil
		}
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		value := fe.Value()
		if isSecretField(fe.Field()) {
			value = "***"
		}
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Value:   value,
			Message: ruleMessage(fe),
		})
	}
	return out
}

// FormatValidationErrors returns a combined error message as string
func FormatValidationErrors(err error) string {
	var messages []string
	for _, ve := range ValidationErrors(err) {
		messages = append(messages, ve.Error())
	}
	return strings.Join(messages, "; ")
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url", "http_url":
		return "must be an absolute http(s) URL"
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	}
	return "failed rule " + fe.Tag()
}

func isSecretField(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "key") || strings.Contains(n, "secret")
}
