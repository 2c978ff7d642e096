package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Validate checks the configuration for values the bridge cannot run with.
func (c BridgeConfig) Validate() error {
	var errs ValidationErrors

	if ip := net.ParseIP(c.Callback.Host); ip == nil || !ip.IsLoopback() {
		errs.Add("callback.host", "must be a loopback IP address", c.Callback.Host)
	}
	if c.Callback.Port < 1 || c.Callback.Port > 65535 {
		errs.Add("callback.port", "must be between 1 and 65535", c.Callback.Port)
	}
	if c.Callback.RateLimit < 0 {
		errs.Add("callback.rateLimit", "must not be negative", c.Callback.RateLimit)
	}
	if c.Callback.RateLimit > 0 && c.Callback.RateBurst < 1 {
		errs.Add("callback.rateBurst", "must be at least 1 when rate limiting is enabled", c.Callback.RateBurst)
	}
	if c.OAuth.HTTPTimeout <= 0 {
		errs.Add("oauth.httpTimeout", "must be positive", c.OAuth.HTTPTimeout)
	}
	if c.OAuth.PendingFlowTTL < 0 {
		errs.Add("oauth.pendingFlowTTL", "must not be negative", c.OAuth.PendingFlowTTL)
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		errs.Add("storage.dir", "is required", c.Storage.Dir)
	}
	if err := ValidateOneOf("logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "warning", "error"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if err := ValidateOneOf("logging.format", c.Logging.Format, []string{"text", "json"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
