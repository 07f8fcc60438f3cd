package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Pipeline error kinds
// =============================================================================

// Kind classifies a failure by how the pipeline reacts to it.
type Kind string

const (
	// KindInitialization is fatal for the loop's Start.
	KindInitialization Kind = "initialization"
	// KindCollaborator means an external system failed; the step or cycle is skipped.
	KindCollaborator Kind = "collaborator"
	// KindClassificationParse means inference output was unusable; the fail-safe analysis is used.
	KindClassificationParse Kind = "classification_parse"
	// KindComposition means a reply template failed; the generic acknowledgement is used.
	KindComposition Kind = "composition"
)

// Error is a pipeline error tagged with its Kind.
type Error struct {
	Kind         Kind
	Op           string
	Collaborator string
	Err          error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Collaborator != "" {
		prefix += "(" + e.Collaborator + ")"
	}
	if e.Op != "" {
		prefix += " " + e.Op
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Initialization(op string, err error) *Error {
	return &Error{Kind: KindInitialization, Op: op, Err: err}
}

func Collaborator(name, op string, err error) *Error {
	return &Error{Kind: KindCollaborator, Collaborator: name, Op: op, Err: err}
}

func ClassificationParse(err error) *Error {
	return &Error{Kind: KindClassificationParse, Op: "parse inference output", Err: err}
}

func Composition(op string, err error) *Error {
	return &Error{Kind: KindComposition, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// =============================================================================
// HTTP errors (control API)
// =============================================================================

const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeBadRequest    = "BAD_REQUEST"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeExternalError = "EXTERNAL_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
	CodeUnavailable   = "UNAVAILABLE"
	CodeRateLimited   = "RATE_LIMITED"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func Unavailable(what string) *AppError {
	return New(CodeUnavailable, fmt.Sprintf("%s is not configured", what), http.StatusServiceUnavailable)
}

func TooManyRequests(retryAfter int) *AppError {
	return New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).WithDetail("retry_after", retryAfter)
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// AsAppError maps any error onto an AppError. Pipeline kinds get a matching HTTP status.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		switch pipeErr.Kind {
		case KindInitialization:
			return &AppError{Code: CodeUnavailable, Message: pipeErr.Error(), Status: http.StatusServiceUnavailable, Err: err}
		case KindCollaborator:
			return &AppError{Code: CodeExternalError, Message: pipeErr.Error(), Status: http.StatusBadGateway, Err: err}
		}
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	return AsAppError(err).Status
}
