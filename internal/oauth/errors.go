package oauth

import (
	"errors"
	"fmt"
)

// Error categories. Callers test with errors.Is.
var (
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrMissingParameter    = errors.New("missing parameter")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNotConfigured       = errors.New("provider not configured")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrSessionExpired      = errors.New("authorization session expired")
	ErrInvalidCallback     = errors.New("invalid callback")
	ErrNoTokens            = errors.New("no tokens")
	ErrRefreshUnavailable  = errors.New("token expired and no refresh token available")
	ErrStorageIO           = errors.New("storage error")
	ErrListenerBindFailed  = errors.New("callback listener bind failed")
)

// JSON-RPC error codes.
const (
	CodeInvalidParams = -32602
	CodeServerError   = -32000
)

// TokenExchangeError carries the provider's raw response for a rejected
// code or refresh grant.
type TokenExchangeError struct {
	ProviderID string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	Body   string
	Err    error
}

// Error implements the error interface.
func (e *TokenExchangeError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("token exchange with %s failed: HTTP %d: %s", e.ProviderID, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("token exchange with %s failed: %v", e.ProviderID, e.Err)
	default:
		return fmt.Sprintf("token exchange with %s failed", e.ProviderID)
	}
}

// Is makes errors.Is(err, ErrTokenExchangeFailed) match.
func (e *TokenExchangeError) Is(target error) bool {
	return target == ErrTokenExchangeFailed
}

// Unwrap returns the transport error, if any.
func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// ListenerBindError reports that the callback port could not be bound.
type ListenerBindError struct {
	Addr string
	// InUse is true when the port is held by another process.
	InUse bool
	Err   error
}

// Error implements the error interface.
func (e *ListenerBindError) Error() string {
	if e.InUse {
		return fmt.Sprintf("callback port %s is already in use; another OAuth flow may be in progress", e.Addr)
	}
	return fmt.Sprintf("failed to start callback listener on %s: %v", e.Addr, e.Err)
}

// Is makes errors.Is(err, ErrListenerBindFailed) match.
func (e *ListenerBindError) Is(target error) bool {
	return target == ErrListenerBindFailed
}

// Unwrap returns the underlying socket error.
func (e *ListenerBindError) Unwrap() error {
	return e.Err
}

// RPCCode maps an error to the JSON-RPC code reported to RPC callers.
func RPCCode(err error) int {
	if errors.Is(err, ErrMissingParameter) || errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrUnknownProvider) {
		return CodeInvalidParams
	}
	return CodeServerError
}

// ErrorKind names the category of err for structured error payloads.
func ErrorKind(err error) string {
	kinds := []struct {
		target error
		kind   string
	}{
		{ErrUnknownProvider, "unknown_provider"},
		{ErrMissingParameter, "missing_parameter"},
		{ErrInvalidParameter, "invalid_parameter"},
		{ErrNotConfigured, "not_configured"},
		{ErrTokenExchangeFailed, "token_exchange_failed"},
		{ErrSessionExpired, "session_expired"},
		{ErrInvalidCallback, "invalid_callback"},
		{ErrNoTokens, "no_tokens"},
		{ErrRefreshUnavailable, "refresh_unavailable"},
		{ErrStorageIO, "storage_io"},
		{ErrListenerBindFailed, "listener_bind_failed"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return "internal"
}

func missingParameter(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, name)
}

func unknownProvider(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
}

func notConfigured(id string) error {
	return fmt.Errorf("%w: %s (set client credentials first)", ErrNotConfigured, id)
}
