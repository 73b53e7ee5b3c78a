package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "ports.base")
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

// branchPrefixRegex validates branch prefix characters.
// Branch names should start with alphanumeric and can contain alphanumeric,
// hyphen, underscore.
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidTerminals returns the list of valid terminal backend names
func ValidTerminals() []string {
	return []string{"iterm", "ghostty", "terminal_app", "native"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validatePorts()...)
	errors = append(errors, c.validateTerminal()...)
	errors = append(errors, c.validateProcess()...)
	errors = append(errors, c.validateHealth()...)
	errors = append(errors, c.validateBranch()...)
	errors = append(errors, c.validateCleanup()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	const maxPathLength = 4096
	for _, p := range []struct {
		field string
		value string
	}{
		{"paths.state_dir", c.Paths.StateDir},
		{"paths.worktree_dir", c.Paths.WorktreeDir},
	} {
		if p.value == "" {
			continue
		}
		if strings.ContainsRune(p.value, '\x00') {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "path contains invalid null character",
			})
		}
		if len(p.value) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}

// validatePorts validates the PortsConfig
func (c *Config) validatePorts() []ValidationError {
	var errors []ValidationError

	// Ports below 1024 need privileges; 65535 is the protocol ceiling.
	const minBase = 1024
	const maxPort = 65535

	if c.Ports.Base < minBase {
		errors = append(errors, ValidationError{
			Field:   "ports.base",
			Value:   c.Ports.Base,
			Message: fmt.Sprintf("must be at least %d", minBase),
		})
	}
	if c.Ports.Base > maxPort {
		errors = append(errors, ValidationError{
			Field:   "ports.base",
			Value:   c.Ports.Base,
			Message: fmt.Sprintf("exceeds maximum of %d", maxPort),
		})
	}

	const maxPerShard = 1000
	if c.Ports.PerShard < 1 {
		errors = append(errors, ValidationError{
			Field:   "ports.per_shard",
			Value:   c.Ports.PerShard,
			Message: "must be at least 1",
		})
	}
	if c.Ports.PerShard > maxPerShard {
		errors = append(errors, ValidationError{
			Field:   "ports.per_shard",
			Value:   c.Ports.PerShard,
			Message: fmt.Sprintf("exceeds maximum of %d", maxPerShard),
		})
	}

	return errors
}

// validateTerminal validates the TerminalConfig
func (c *Config) validateTerminal() []ValidationError {
	var errors []ValidationError

	if c.Terminal.Preferred != "" && !slices.Contains(ValidTerminals(), c.Terminal.Preferred) {
		errors = append(errors, ValidationError{
			Field:   "terminal.preferred",
			Value:   c.Terminal.Preferred,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTerminals(), ", ")),
		})
	}

	return errors
}

// validateProcess validates the ProcessConfig
func (c *Config) validateProcess() []ValidationError {
	var errors []ValidationError

	const maxResolveTimeout = 300
	if c.Process.ResolveTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "process.resolve_timeout_seconds",
			Value:   c.Process.ResolveTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Process.ResolveTimeoutSeconds > maxResolveTimeout {
		errors = append(errors, ValidationError{
			Field:   "process.resolve_timeout_seconds",
			Value:   c.Process.ResolveTimeoutSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds", maxResolveTimeout),
		})
	}

	const maxShutdownGrace = 120
	if c.Process.ShutdownGraceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "process.shutdown_grace_seconds",
			Value:   c.Process.ShutdownGraceSeconds,
			Message: "must be non-negative (0 escalates to SIGKILL immediately)",
		})
	}
	if c.Process.ShutdownGraceSeconds > maxShutdownGrace {
		errors = append(errors, ValidationError{
			Field:   "process.shutdown_grace_seconds",
			Value:   c.Process.ShutdownGraceSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds", maxShutdownGrace),
		})
	}

	if strings.TrimSpace(c.Process.AgentName) == "" {
		errors = append(errors, ValidationError{
			Field:   "process.agent_name",
			Value:   c.Process.AgentName,
			Message: "cannot be empty",
		})
	}

	return errors
}

// validateHealth validates the HealthConfig
func (c *Config) validateHealth() []ValidationError {
	var errors []ValidationError

	const maxIdleThreshold = 24 * 60
	if c.Health.IdleThresholdMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "health.idle_threshold_minutes",
			Value:   c.Health.IdleThresholdMinutes,
			Message: "must be at least 1",
		})
	}
	if c.Health.IdleThresholdMinutes > maxIdleThreshold {
		errors = append(errors, ValidationError{
			Field:   "health.idle_threshold_minutes",
			Value:   c.Health.IdleThresholdMinutes,
			Message: fmt.Sprintf("exceeds maximum of %d minutes", maxIdleThreshold),
		})
	}

	return errors
}

// validateBranch validates the BranchConfig
func (c *Config) validateBranch() []ValidationError {
	var errors []ValidationError

	if c.Branch.Prefix == "" {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: "cannot be empty",
		})
	} else if !branchPrefixRegex.MatchString(c.Branch.Prefix) {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
		})
	}

	// Git branch names have length limits
	const maxBranchPrefixLength = 50
	if len(c.Branch.Prefix) > maxBranchPrefixLength {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", maxBranchPrefixLength),
		})
	}

	return errors
}

// validateCleanup validates the CleanupConfig
func (c *Config) validateCleanup() []ValidationError {
	var errors []ValidationError

	if c.Cleanup.MaxAgeDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "cleanup.max_age_days",
			Value:   c.Cleanup.MaxAgeDays,
			Message: "must be non-negative (0 disables age-based cleanup)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
