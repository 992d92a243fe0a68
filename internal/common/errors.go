package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind classifies every failure an analysis can surface.
type ErrorKind string

const (
	KindConfig           ErrorKind = "config"
	KindAuth             ErrorKind = "auth"
	KindTransient        ErrorKind = "transient_service"
	KindPermanent        ErrorKind = "permanent_service"
	KindTimeout          ErrorKind = "timeout"
	KindMalformedPayload ErrorKind = "malformed_payload"
)

// Sentinels for errors.Is matching on kind alone.
var (
	ErrConfig           = &AnalysisError{Kind: KindConfig}
	ErrAuth             = &AnalysisError{Kind: KindAuth}
	ErrTransient        = &AnalysisError{Kind: KindTransient}
	ErrPermanent        = &AnalysisError{Kind: KindPermanent}
	ErrTimeout          = &AnalysisError{Kind: KindTimeout}
	ErrMalformedPayload = &AnalysisError{Kind: KindMalformedPayload}
)

// AnalysisError is the typed failure returned by every analysis operation.
type AnalysisError struct {
	Kind    ErrorKind
	Message string

	// StatusCode is the HTTP status for service errors, 0 otherwise.
	StatusCode int
	// Code is the service-reported error code, if any.
	Code string
	// Retries is the number of retries performed before giving up.
	Retries int
	// Path is the JSON pointer of the offending payload field.
	Path string

	Cause error
}

func (e *AnalysisError) Error() string {
	msg := string(e.Kind)
	switch {
	case e.StatusCode != 0:
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	case e.Path != "":
		msg = fmt.Sprintf("%s at %s", msg, e.Path)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Retries > 0 {
		msg = fmt.Sprintf("%s (after %d retries)", msg, e.Retries)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// Is matches another *AnalysisError by kind, so errors.Is(err, ErrTimeout) works.
func (e *AnalysisError) Is(target error) bool {
	t, ok := target.(*AnalysisError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// GRPCStatus lets grpc-go translate the error without a mapping layer.
func (e *AnalysisError) GRPCStatus() *status.Status {
	return status.New(GRPCCode(e.Kind), e.Error())
}

func ConfigError(format string, args ...any) *AnalysisError {
	return &AnalysisError{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// InvalidConfigError is a ConfigError that keeps its cause.
func InvalidConfigError(message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindConfig, Message: message, Cause: cause}
}

func AuthError(message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindAuth, Message: message, Cause: cause}
}

func TransientError(statusCode, retries int, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindTransient, StatusCode: statusCode, Retries: retries, Cause: cause}
}

func PermanentError(statusCode int, code, message string) *AnalysisError {
	return &AnalysisError{Kind: KindPermanent, StatusCode: statusCode, Code: code, Message: message}
}

func TimeoutError(message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindTimeout, Message: message, Cause: cause}
}

func MalformedPayloadError(path, message string) *AnalysisError {
	if path == "" {
		path = "/"
	}
	return &AnalysisError{Kind: KindMalformedPayload, Path: path, Message: message}
}

// KindOf returns the kind of err, or "" if err is not an *AnalysisError.
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// FromContext converts a context error into a TimeoutError. Other errors pass through.
func FromContext(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutError("deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return TimeoutError("analysis canceled by caller", err)
	}
	return err
}

// UserMessage returns a distinct, actionable message for each error kind.
func UserMessage(err error) string {
	var ae *AnalysisError
	if !errors.As(err, &ae) {
		return "Unexpected error during document analysis."
	}
	switch ae.Kind {
	case KindConfig:
		return "The request is invalid: " + ae.Message + ". Fix the input and try again."
	case KindAuth:
		return "Authentication failed. Check the API key, or the managed identity's role assignment on the Document Intelligence resource."
	case KindTransient:
		return fmt.Sprintf("The analysis service is temporarily unavailable (gave up after %d retries). Try again shortly.", ae.Retries)
	case KindPermanent:
		return "The analysis service rejected the document: " + ae.Message
	case KindTimeout:
		return "The analysis did not finish in time. You can retry the whole request."
	case KindMalformedPayload:
		return "The analysis service returned an unexpected response (" + ae.Path + "). Please report this."
	}
	return ae.Error()
}

// GRPCCode maps an error kind to the closest gRPC status code.
func GRPCCode(kind ErrorKind) codes.Code {
	switch kind {
	case KindConfig:
		return codes.InvalidArgument
	case KindAuth:
		return codes.Unauthenticated
	case KindTransient:
		return codes.Unavailable
	case KindPermanent:
		return codes.FailedPrecondition
	case KindTimeout:
		return codes.DeadlineExceeded
	case KindMalformedPayload:
		return codes.DataLoss
	}
	return codes.Internal
}

// AppError represents application-specific errors outside the analysis taxonomy
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
)

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
