package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("pipeline not found")
	ErrMissingContent    = errors.New("pipeline has no content to publish")
	ErrConfiguration     = errors.New("missing configuration")
	ErrAuthExchange      = errors.New("authorization code exchange failed")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrInvalidState      = errors.New("invalid oauth state")
	ErrPersistence       = errors.New("persistence failure")
	ErrConcurrentUpdate  = errors.New("pipeline was modified concurrently")
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrApproverRequired  = errors.New("approver identity is required")
	ErrContentLocked     = errors.New("content can only be edited while in draft")
	ErrSecretNotFound    = errors.New("secret not found")
)

// InvalidTransitionError names the current and requested state.
type InvalidTransitionError struct {
	From PipelineStatus
	To   PipelineStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ConfigurationError names the setting that is absent.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Field)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// AuthExchangeError carries the upstream response of a failed token exchange.
type AuthExchangeError struct {
	StatusCode int
	Body       string
}

func (e *AuthExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed: %d: %s", e.StatusCode, e.Body)
}

func (e *AuthExchangeError) Unwrap() error {
	return ErrAuthExchange
}

// PublishPersistenceError is returned when platforms were attempted but the
// pipeline could not be saved. Outcomes holds what the platforms returned so
// the caller can reconcile by hand.
type PublishPersistenceError struct {
	PipelineID string
	Outcomes   []PublishOutcome
	Err        error
}

func (e *PublishPersistenceError) Error() string {
	return fmt.Sprintf("failed to persist publish results for pipeline %s: %v", e.PipelineID, e.Err)
}

func (e *PublishPersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
