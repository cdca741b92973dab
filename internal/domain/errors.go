package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("not found")
	ErrCodeInvalid      = errors.New("redemption code is invalid")
	ErrCodeExpired      = errors.New("redemption code has expired")
	ErrCodeExhausted    = errors.New("redemption code has no uses left")
	ErrIdentityRequired = errors.New("redemption code requires a signed-in identity")
	ErrInvalidSubject   = errors.New("subject must be a valid email address")
	ErrQueueFull        = errors.New("queue is at capacity, try again later")
	ErrNoCapacity       = errors.New("no resource with available capacity")
)

// ExternalKind classifies a provisioning failure for the retry policy.
type ExternalKind string

const (
	// ExternalTransient covers rate limits, timeouts and network errors.
	// Retried once per item per dispatch cycle.
	ExternalTransient ExternalKind = "external_transient"
	// ExternalPermanent covers rejections that will not change on retry,
	// e.g. a malformed address.
	ExternalPermanent ExternalKind = "external_permanent"
)

// ExternalError is returned by the provisioning boundary.
type ExternalError struct {
	Kind       ExternalKind
	StatusCode int
	Message    string
}

func (e *ExternalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s [%d]: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func Transient(status int, msg string) *ExternalError {
	return &ExternalError{Kind: ExternalTransient, StatusCode: status, Message: msg}
}

func Permanent(status int, msg string) *ExternalError {
	return &ExternalError{Kind: ExternalPermanent, StatusCode: status, Message: msg}
}

// IsPermanent reports whether err is a permanent external rejection.
// Any other error, including unclassified ones, is treated as transient.
func IsPermanent(err error) bool {
	var ext *ExternalError
	return errors.As(err, &ext) && ext.Kind == ExternalPermanent
}

// KindOf returns the ExternalKind for err, defaulting to ExternalTransient.
func KindOf(err error) ExternalKind {
	if IsPermanent(err) {
		return ExternalPermanent
	}
	return ExternalTransient
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}
