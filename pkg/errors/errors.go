package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "registry", "deploy", "billing")
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
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

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

// WithMetadata returns a copy of the error with the key/value added. The
// original error is left untouched so shared sentinel errors stay immutable.
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
	// Registry domain errors
	ErrCodeNodeNotFound     = "node_not_found"
	ErrCodeDuplicateHost    = "duplicate_host"
	ErrCodeCapacityExceeded = "capacity_exceeded"
	ErrCodeNodeValidation   = "node_validation"
	ErrCodeNodeDisabled     = "node_disabled"

	// Deployment domain errors
	ErrCodeDeploymentNotFound = "deployment_not_found"
	ErrCodeDeploymentTimeout  = "deployment_timeout"
	ErrCodeDeploymentFailed   = "deployment_failed"
	ErrCodeSSHConnection      = "ssh_connection"
	ErrCodeSSHCommand         = "ssh_command_failed"
	ErrCodeProviderError      = "provider_error"

	// Billing domain errors
	ErrCodePaymentFailed          = "payment_failed"
	ErrCodeSubscriptionNotFound   = "subscription_not_found"
	ErrCodeNotificationFailed     = "notification_failed"
	ErrCodeAutoRenewDisabled      = "auto_renew_disabled"
	ErrCodeSubscriptionValidation = "subscription_validation"

	// System errors
	ErrCodeDatabase      = "database_error"
	ErrCodeConfiguration = "config_error"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeTimeout       = "timeout"
)

// Domain Constants
const (
	DomainRegistry = "registry"
	DomainDeploy   = "deploy"
	DomainBilling  = "billing"
	DomainDatabase = "database"
	DomainSystem   = "system"
	DomainAPI      = "api"
)

// Domain-specific error constructors

// NewRegistryError creates a standardized registry domain error
func NewRegistryError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainRegistry, code, message, retryable, cause, nil)
}

// NewDeployError creates a standardized deployment domain error
func NewDeployError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainDeploy, code, message, retryable, cause, nil)
}

// NewBillingError creates a standardized billing domain error
func NewBillingError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainBilling, code, message, retryable, cause, nil)
}

// NewDatabaseError creates a standardized database error
func NewDatabaseError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainDatabase, code, message, retryable, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// NewAPIError creates a standardized API error
func NewAPIError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAPI, code, message, retryable, cause, nil)
}

// Domain Sentinel Errors - pre-created common errors for fast comparison
var (
	ErrNodeNotFound         = NewRegistryError(ErrCodeNodeNotFound, "node not found", false, nil)
	ErrCapacityExceeded     = NewRegistryError(ErrCodeCapacityExceeded, "node at capacity", true, nil)
	ErrDuplicateHost        = NewRegistryError(ErrCodeDuplicateHost, "a node with this host already exists", false, nil)
	ErrDeploymentNotFound   = NewDeployError(ErrCodeDeploymentNotFound, "deployment not found", false, nil)
	ErrDeploymentTimeout    = NewDeployError(ErrCodeDeploymentTimeout, "deployment deadline exceeded", false, nil)
	ErrSubscriptionNotFound = NewBillingError(ErrCodeSubscriptionNotFound, "subscription not found", false, nil)
	ErrInvalidConfig        = NewSystemError(ErrCodeConfiguration, "invalid configuration", false, nil)
)

// Helper functions for error checking

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var de DomainError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return false
}

// GetCode returns the error code if it's a DomainError, otherwise "unknown"
func GetCode(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code()
	}
	return "unknown"
}

// GetDomain returns the error domain if it's a DomainError, otherwise "unknown"
func GetDomain(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Domain()
	}
	return "unknown"
}

// HasCode checks if any error in the chain carries the specified code
func HasCode(err error, code string) bool {
	for err != nil {
		var de DomainError
		if errors.As(err, &de) && de.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Wrap wraps an existing error with domain context
func Wrap(err error, domain, code, message string, retryable bool) DomainError {
	return NewBaseError(domain, code, message, retryable, err, nil)
}
