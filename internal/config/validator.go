package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "workload.tasks")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidHosts returns the list of valid host runtimes
func ValidHosts() []string {
	return []string{HostCurrentThread, HostMultiThread}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.LocalSet.MaxTasksPerTick < 1 {
		errors = append(errors, ValidationError{
			Field:   "localset.max_tasks_per_tick",
			Value:   c.LocalSet.MaxTasksPerTick,
			Message: "must be at least 1",
		})
	}
	if c.LocalSet.HistoryCapacity < 0 {
		errors = append(errors, ValidationError{
			Field:   "localset.history_capacity",
			Value:   c.LocalSet.HistoryCapacity,
			Message: "must not be negative",
		})
	}

	if !slices.Contains(ValidHosts(), c.Runtime.Host) {
		errors = append(errors, ValidationError{
			Field:   "runtime.host",
			Value:   c.Runtime.Host,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidHosts(), ", ")),
		})
	}
	if c.Runtime.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "runtime.workers",
			Value:   c.Runtime.Workers,
			Message: "must be at least 1",
		})
	}

	if c.Workload.Batches < 1 {
		errors = append(errors, ValidationError{
			Field:   "workload.batches",
			Value:   c.Workload.Batches,
			Message: "must be at least 1",
		})
	}
	if c.Workload.Tasks < 0 {
		errors = append(errors, ValidationError{
			Field:   "workload.tasks",
			Value:   c.Workload.Tasks,
			Message: "must not be negative",
		})
	}
	if c.Workload.Depth < 0 {
		errors = append(errors, ValidationError{
			Field:   "workload.depth",
			Value:   c.Workload.Depth,
			Message: "must not be negative",
		})
	}
	if c.Workload.SleepMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "workload.sleep_ms",
			Value:   c.Workload.SleepMs,
			Message: "must not be negative",
		})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			errors = append(errors, ValidationError{
				Field:   "metrics.addr",
				Value:   c.Metrics.Addr,
				Message: "must be set when metrics are enabled",
			})
		}
		if c.Metrics.PollIntervalMs < 1 {
			errors = append(errors, ValidationError{
				Field:   "metrics.poll_interval_ms",
				Value:   c.Metrics.PollIntervalMs,
				Message: "must be at least 1",
			})
		}
	}

	return errors
}
