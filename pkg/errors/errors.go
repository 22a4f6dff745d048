package errors

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrorType classifies failures seen by the supervisor and the discovery engine
type ErrorType string

const (
	// A process is not running, or the RPC transport to it failed
	ErrorTypeUnavailable ErrorType = "unavailable"
	// A process is running but reports not serving
	ErrorTypeUnhealthy ErrorType = "unhealthy"
	ErrorTypeStartup   ErrorType = "startup"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeRegistry  ErrorType = "registry"
	ErrorTypeDiscovery ErrorType = "discovery"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError is a typed error with optional cause and context values
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Supervision and discovery
func NewUnavailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUnavailable, message, cause)
}

func NewUnhealthyError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUnhealthy, message, cause)
}

func NewStartupError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStartup, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewRegistryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeRegistry, message, cause)
}

func NewDiscoveryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDiscovery, message, cause)
}

// General
func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// isType checks the outermost DomainError of err, or of each error when err
// combines several.
func isType(err error, errorType ErrorType) bool {
	for _, e := range multierr.Errors(err) {
		var domainErr *DomainError
		if errors.As(e, &domainErr) && domainErr.Type == errorType {
			return true
		}
	}
	return false
}

func IsUnavailableError(err error) bool { return isType(err, ErrorTypeUnavailable) }
func IsUnhealthyError(err error) bool   { return isType(err, ErrorTypeUnhealthy) }
func IsStartupError(err error) bool     { return isType(err, ErrorTypeStartup) }
func IsTimeoutError(err error) bool     { return isType(err, ErrorTypeTimeout) }
func IsRegistryError(err error) bool    { return isType(err, ErrorTypeRegistry) }
func IsDiscoveryError(err error) bool   { return isType(err, ErrorTypeDiscovery) }
func IsValidationError(err error) bool  { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool    { return isType(err, ErrorTypeNotFound) }
func IsProcessError(err error) bool     { return isType(err, ErrorTypeProcess) }
func IsIOError(err error) bool          { return isType(err, ErrorTypeIO) }
func IsNetworkError(err error) bool     { return isType(err, ErrorTypeNetwork) }
func IsInternalError(err error) bool    { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool   { return isType(err, ErrorTypeCancelled) }

// ErrorCollection gathers errors from bulk operations such as shutting down
// every cluster member
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	return multierr.Combine(e.Errors...).Error()
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns nil for an empty collection, the single error when there is
// one, and a multierr combination otherwise
func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return multierr.Combine(e.Errors...)
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
