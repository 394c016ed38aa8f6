package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotAuthenticated is returned by catalog operations issued before a
// session holds a token.
var ErrNotAuthenticated = errors.New("not authenticated")

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// AuthError is a login or token renewal rejected by the backend.
type AuthError struct {
	Op  string // "token", "userpass", "lookup-self", "renew-self"
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransportError is any backend failure other than a 404 on list/read.
type TransportError struct {
	Op         string // "list", "read", "mounts"
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	target := e.Op
	if e.Path != "" {
		target += " " + e.Path
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("vault %s failed (status %d): %v", target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vault %s failed: %v", target, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvariantViolation is used as a panic value when the catalog reaches a
// state that cannot happen in a correct program. It is never recovered.
type InvariantViolation struct {
	Message string
}

func (e InvariantViolation) Error() string {
	return "invariant violation: " + e.Message
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Message extracts the text shown on the user-facing error channel.
func Message(err error) string {
	if err == nil {
		return "unknown"
	}
	var ue UserError
	if errors.As(err, &ue) && ue.Message != "" {
		if ue.Err != nil {
			return ue.Message + ": " + ue.Err.Error()
		}
		return ue.Message
	}
	return err.Error()
}

// BackendError enhances a failed user action against a Vault server with context
func BackendError(server string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("vault %q error during %s", server, operation),
		Suggestion: getBackendSuggestion(err),
		Err:        err,
	}
}

// getBackendSuggestion returns helpful suggestions based on Vault errors
func getBackendSuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"):
		return "Check that the Vault server is running and the endpoint in your configuration is reachable"
	case strings.Contains(errStr, "permission denied"):
		return "Check your Vault token policies for this path"
	case strings.Contains(errStr, "invalid token"), strings.Contains(errStr, "token expired"):
		return "Your Vault token may be expired or invalid. Update the token in your configuration"
	case strings.Contains(errStr, "namespace"):
		return "Check the namespace of this connection"
	case strings.Contains(errStr, "tls"), strings.Contains(errStr, "x509"):
		return "Check the TLS configuration of the Vault server (VAULT_CACERT)"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "The operation timed out. Check your network connection or raise --timeout"
	case strings.Contains(errStr, "not authenticated"):
		return "Connect to the server first"
	}

	return ""
}
