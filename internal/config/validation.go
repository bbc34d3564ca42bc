package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FieldError is one invalid setting.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.Field, f.Message))
	}
	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Daemon.Username == "" {
		errs.add("daemon.username", "is required (set SERVALSYNC_DAEMON_USERNAME env var)")
	}
	if u, err := url.Parse(c.Daemon.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.add("daemon.base_url", "must be an absolute URL, got %q", c.Daemon.BaseURL)
	}
	if c.Daemon.TimeoutSec < 1 {
		errs.add("daemon.timeout_sec", "must be >= 1")
	}
	if c.Daemon.RetryCount < 0 {
		errs.add("daemon.retry_count", "must be >= 0")
	}
	if c.Daemon.RatePerSecond < 1 {
		errs.add("daemon.rate_per_second", "must be >= 1")
	}

	if c.Worker.Workers < 1 {
		errs.add("worker.workers", "must be >= 1")
	}
	if c.Worker.QueueSize < 1 {
		errs.add("worker.queue_size", "must be >= 1")
	}
	if !ValidFullPolicies[c.Worker.FullPolicy] {
		errs.add("worker.full_policy", "invalid value %q (valid: %s)", c.Worker.FullPolicy, keys(ValidFullPolicies))
	}
	if c.Loops.QueueSize < 1 {
		errs.add("loops.queue_size", "must be >= 1")
	}

	if c.Sync.PollInterval <= 0 {
		errs.add("sync.poll_interval", "must be positive")
	}

	if !ValidStoreBackends[c.Store.Backend] {
		errs.add("store.backend", "invalid value %q (valid: %s)", c.Store.Backend, keys(ValidStoreBackends))
	} else if c.Store.Backend != "none" && c.Store.Path == "" {
		errs.add("store.path", "is required for the %s backend", c.Store.Backend)
	}

	if c.Server.ClientBuffer < 1 {
		errs.add("server.client_buffer", "must be >= 1")
	}

	if !ValidLogLevels[strings.ToLower(c.Logging.Level)] {
		errs.add("logging.level", "invalid value %q (valid: %s)", c.Logging.Level, keys(ValidLogLevels))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func keys(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
