package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// serviceNamePattern is the service name format accepted by the profiler API.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9_.]{0,253}[a-z0-9])?$`)

// ValidateServiceName checks a deployment target name.
func ValidateServiceName(name string) error {
	if verr := checkServiceName(name); verr != nil {
		return verr
	}
	return nil
}

func checkServiceName(name string) *ValidationError {
	if name == "" {
		return &ValidationError{Field: "service", Message: "service name is required"}
	}
	if !serviceNamePattern.MatchString(name) {
		return &ValidationError{
			Field:   "service",
			Message: fmt.Sprintf("service name %q must match %s", name, serviceNamePattern),
		}
	}
	return nil
}

// Validate validates AgentConfig.
func (c *AgentConfig) Validate() error {
	var errors []ValidationError

	if verr := checkServiceName(c.Service); verr != nil {
		errors = append(errors, *verr)
	}

	if c.SamplingRate < 0 {
		errors = append(errors, ValidationError{
			Field:   "sampling_rate",
			Message: "sampling rate must not be negative",
		})
	}

	if c.APIEndpoint != "" {
		if u, err := url.Parse(c.APIEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "api_endpoint",
				Message: fmt.Sprintf("invalid endpoint URL %q", c.APIEndpoint),
			})
		}
	}

	for key := range c.Labels {
		if key == "" {
			errors = append(errors, ValidationError{
				Field:   "labels",
				Message: "label keys must not be empty",
			})
			break
		}
	}

	if c.IdleInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "idle_interval",
			Message: "idle interval must not be negative",
		})
	}

	if c.Backoff.Floor < 0 {
		errors = append(errors, ValidationError{
			Field:   "backoff.floor",
			Message: "backoff floor must not be negative",
		})
	}
	if c.Backoff.Ceiling < c.Backoff.Floor {
		errors = append(errors, ValidationError{
			Field:   "backoff.ceiling",
			Message: "backoff ceiling must not be below the floor",
		})
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier <= 1 {
		errors = append(errors, ValidationError{
			Field:   "backoff.multiplier",
			Message: "backoff multiplier must be greater than 1",
		})
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level %q", c.Logging.Level),
		})
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}
