package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "lease", "tunnel", "store")
	Domain() string

	// Code returns a stable error code for API responses
	Code() string

	// Retryable indicates if the operation can be retried
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Message() string          { return e.message }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// Is matches another BaseError by domain and code so sentinels work with errors.Is.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok {
		return false
	}
	return e.domain == t.domain && e.code == t.code
}

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error carrying the extra key.
// The receiver is never mutated so shared sentinels stay clean.
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Standardized Error Codes
const (
	// Lease domain errors
	ErrCodeLeaseNotFound = "lease_not_found"
	ErrCodeInvalidTier   = "invalid_tier"
	ErrCodeKeyNotFound   = "key_not_found"

	// Tunnel (WireGuard) errors
	ErrCodeWireGuardError    = "wireguard_error"
	ErrCodeWireGuardTimeout  = "wireguard_timeout"
	ErrCodeConfigFileError   = "config_file_error"
	ErrCodeConfigFileChanged = "config_file_changed"
	ErrCodeProfileError      = "profile_error"

	// Store errors
	ErrCodePersistence  = "persistence_error"
	ErrCodeStateCorrupt = "state_corrupt"

	// System Errors
	ErrCodeInternal   = "internal_error"
	ErrCodeValidation = "validation_error"
)

// Domain Constants
const (
	DomainLease  = "lease"
	DomainTunnel = "tunnel"
	DomainStore  = "store"
	DomainSystem = "system"
	DomainAPI    = "api"
)

// NewLeaseError creates a standardized lease domain error
func NewLeaseError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainLease, code, message, retryable, cause, nil)
}

// NewTunnelError creates a standardized tunnel error
func NewTunnelError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainTunnel, code, message, retryable, cause, nil)
}

// NewStoreError creates a standardized store error
func NewStoreError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainStore, code, message, retryable, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// NewDomainAPIError creates a standardized API error
func NewDomainAPIError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAPI, code, message, retryable, cause, nil)
}

// Domain sentinel errors for errors.Is comparisons
var (
	DomainErrLeaseNotFound = NewLeaseError(ErrCodeLeaseNotFound, "lease not found", false, nil)
	DomainErrInvalidTier   = NewLeaseError(ErrCodeInvalidTier, "unknown tier and no duration given", false, nil)
	DomainErrKeyNotFound   = NewLeaseError(ErrCodeKeyNotFound, "public key could not be resolved", true, nil)

	DomainErrConfigChanged = NewTunnelError(ErrCodeConfigFileChanged, "interface config changed during rewrite", true, nil)
)

// AsDomainError finds the first DomainError in the chain
func AsDomainError(err error) (DomainError, bool) {
	var de DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if domainErr, ok := AsDomainError(err); ok {
		return domainErr.Retryable()
	}
	return false
}

// GetErrorCode returns the error code if it's a DomainError, otherwise returns "unknown"
func GetErrorCode(err error) string {
	if domainErr, ok := AsDomainError(err); ok {
		return domainErr.Code()
	}
	return "unknown"
}

// IsErrorCode checks if any error in the chain has the specified code
func IsErrorCode(err error, code string) bool {
	for err != nil {
		if de, ok := err.(DomainError); ok && de.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
