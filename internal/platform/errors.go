package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError reports rejected credentials. It is fatal at startup.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err originated from a rejected login.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var target *AuthError
	return errors.As(err, &target)
}

// ExternalServiceError is a failed read or write against the platform for a
// single feed, comment or message.
type ExternalServiceError struct {
	Op         string
	Target     string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Op, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the platform signalled a transient condition.
func (e *ExternalServiceError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// NewServiceError wraps err with the operation and target it failed on.
func NewServiceError(op, target string, status int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &ExternalServiceError{Op: op, Target: target, StatusCode: status, Err: err}
}
