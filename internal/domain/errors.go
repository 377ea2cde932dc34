package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation           ErrorType = "validation"
	ErrorTypeNoMergeableDocuments ErrorType = "no_mergeable_documents"
	ErrorTypeSourcePageRead       ErrorType = "source_page_read"
	ErrorTypeRender               ErrorType = "render"
	ErrorTypeOutputWrite          ErrorType = "output_write"
	ErrorTypeNotFound             ErrorType = "not_found"
	ErrorTypeForbidden            ErrorType = "forbidden"
	ErrorTypeInvalidState         ErrorType = "invalid_state"
	ErrorTypeConfig               ErrorType = "config"
	ErrorTypeIO                   ErrorType = "io"
	ErrorTypeInternal             ErrorType = "internal"
)

// Sentinels for errors.Is matching on error type.
var (
	ErrValidation           = &DomainError{Type: ErrorTypeValidation}
	ErrNoMergeableDocuments = &DomainError{Type: ErrorTypeNoMergeableDocuments}
	ErrSourcePageRead       = &DomainError{Type: ErrorTypeSourcePageRead}
	ErrRender               = &DomainError{Type: ErrorTypeRender}
	ErrOutputWrite          = &DomainError{Type: ErrorTypeOutputWrite}
	ErrNotFound             = &DomainError{Type: ErrorTypeNotFound}
	ErrForbidden            = &DomainError{Type: ErrorTypeForbidden}
	ErrInvalidState         = &DomainError{Type: ErrorTypeInvalidState}
	ErrConfig               = &DomainError{Type: ErrorTypeConfig}
	ErrIO                   = &DomainError{Type: ErrorTypeIO}
	ErrInternal             = &DomainError{Type: ErrorTypeInternal}
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	if e.Message == "" {
		return fmt.Sprintf("[%s]", e.Type)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Type == e.Type
}

// TypeOf returns the ErrorType of the first DomainError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func NoMergeableDocumentsError(message string) *DomainError {
	return NewError(ErrorTypeNoMergeableDocuments, message, nil)
}

func SourcePageReadError(message string, err error) *DomainError {
	return NewError(ErrorTypeSourcePageRead, message, err)
}

func RenderError(message string, err error) *DomainError {
	return NewError(ErrorTypeRender, message, err)
}

func OutputWriteError(message string, err error) *DomainError {
	return NewError(ErrorTypeOutputWrite, message, err)
}

func NotFoundError(message string, err error) *DomainError {
	return NewError(ErrorTypeNotFound, message, err)
}

func ForbiddenError(message string) *DomainError {
	return NewError(ErrorTypeForbidden, message, nil)
}

func InvalidStateError(message string) *DomainError {
	return NewError(ErrorTypeInvalidState, message, nil)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func InternalError(message string, err error) *DomainError {
	return NewError(ErrorTypeInternal, message, err)
}
