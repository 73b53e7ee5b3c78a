package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete shardflow configuration
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Ports    PortsConfig    `mapstructure:"ports"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Process  ProcessConfig  `mapstructure:"process"`
	Health   HealthConfig   `mapstructure:"health"`
	Branch   BranchConfig   `mapstructure:"branch"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig controls where shardflow stores data
type PathsConfig struct {
	// StateDir is the directory where shard state files are stored.
	// If empty, defaults to ~/.shardflow. Supports ~ expansion.
	StateDir string `mapstructure:"state_dir"`

	// WorktreeDir is the directory where git worktrees are created.
	// If empty, defaults to ".shardflow/worktrees" relative to the
	// repository root. Can be an absolute path to store worktrees outside
	// the repository. Supports ~ for home directory expansion.
	WorktreeDir string `mapstructure:"worktree_dir"`
}

// PortsConfig controls port range allocation for shards
type PortsConfig struct {
	// Base is the lowest port number handed out to shards (default: 3000)
	Base int `mapstructure:"base"`
	// PerShard is the default number of contiguous ports reserved per
	// shard when create does not specify one (default: 10)
	PerShard int `mapstructure:"per_shard"`
}

// TerminalConfig controls which terminal backend spawns agent windows
type TerminalConfig struct {
	// Preferred is the backend to use when available: "iterm", "ghostty",
	// "terminal_app", or "native". Empty means pick the richest backend
	// present on the system.
	Preferred string `mapstructure:"preferred"`
}

// ProcessConfig controls agent process tracking and shutdown
type ProcessConfig struct {
	// ResolveTimeoutSeconds bounds the wait for the spawned agent process
	// to appear in the process table (default: 15)
	ResolveTimeoutSeconds int `mapstructure:"resolve_timeout_seconds"`
	// ShutdownGraceSeconds is how long to wait after SIGTERM before
	// escalating to SIGKILL (default: 5)
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
	// AgentName is the process name the agent runs under, used to verify
	// identity before signalling (default: "claude")
	AgentName string `mapstructure:"agent_name"`
}

// HealthConfig controls health classification of shard agents
type HealthConfig struct {
	// IdleThresholdMinutes is the minutes without activity after which a
	// live agent is reported idle instead of working (default: 10)
	IdleThresholdMinutes int `mapstructure:"idle_threshold_minutes"`
}

// BranchConfig controls branch naming conventions
type BranchConfig struct {
	// Prefix is the branch name prefix (default: "shard")
	Prefix string `mapstructure:"prefix"`
}

// CleanupConfig controls the cleanup reconciler
type CleanupConfig struct {
	// MaxAgeDays marks stopped shards older than this for removal by the
	// age-based strategy. 0 disables age-based cleanup (default: 30).
	MaxAgeDays int `mapstructure:"max_age_days"`
	// KeepRemoteBranches prevents deletion of branches that exist on the
	// remote (default: true)
	KeepRemoteBranches bool `mapstructure:"keep_remote_branches"`
	// WarnOnStale shows a warning when stale shards exist (default: true)
	WarnOnStale bool `mapstructure:"warn_on_stale"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// ResolveStateDir returns the resolved state directory path.
// If StateDir is empty, it defaults to ~/.shardflow.
func (p *PathsConfig) ResolveStateDir() string {
	if p.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".shardflow"
		}
		return filepath.Join(home, ".shardflow")
	}
	return expandHome(p.StateDir)
}

// ResolveWorktreeDir returns the resolved worktree directory path.
// If WorktreeDir is empty, it returns the default path relative to baseDir.
// If WorktreeDir is a relative path, it's resolved relative to baseDir.
func (p *PathsConfig) ResolveWorktreeDir(baseDir string) string {
	if p.WorktreeDir == "" {
		return filepath.Join(baseDir, ".shardflow", "worktrees")
	}

	path := expandHome(p.WorktreeDir)
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
	}
	return path
}

// ResolveTimeout returns the process resolve timeout as a time.Duration
func (c *ProcessConfig) ResolveTimeout() time.Duration {
	return time.Duration(c.ResolveTimeoutSeconds) * time.Second
}

// ShutdownGrace returns the SIGTERM grace period as a time.Duration
func (c *ProcessConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// IdleThreshold returns the idle threshold as a time.Duration
func (c *HealthConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdMinutes) * time.Minute
}

// MaxAge returns the age-based cleanup threshold as a time.Duration
// (0 means disabled)
func (c *CleanupConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			StateDir:    "", // Empty means ~/.shardflow
			WorktreeDir: "", // Empty means .shardflow/worktrees
		},
		Ports: PortsConfig{
			Base:     3000,
			PerShard: 10,
		},
		Terminal: TerminalConfig{
			Preferred: "", // Empty means richest available
		},
		Process: ProcessConfig{
			ResolveTimeoutSeconds: 15,
			ShutdownGraceSeconds:  5,
			AgentName:             "claude",
		},
		Health: HealthConfig{
			IdleThresholdMinutes: 10,
		},
		Branch: BranchConfig{
			Prefix: "shard",
		},
		Cleanup: CleanupConfig{
			MaxAgeDays:         30,
			KeepRemoteBranches: true,
			WarnOnStale:        true,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Paths defaults
	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)

	// Ports defaults
	viper.SetDefault("ports.base", defaults.Ports.Base)
	viper.SetDefault("ports.per_shard", defaults.Ports.PerShard)

	// Terminal defaults
	viper.SetDefault("terminal.preferred", defaults.Terminal.Preferred)

	// Process defaults
	viper.SetDefault("process.resolve_timeout_seconds", defaults.Process.ResolveTimeoutSeconds)
	viper.SetDefault("process.shutdown_grace_seconds", defaults.Process.ShutdownGraceSeconds)
	viper.SetDefault("process.agent_name", defaults.Process.AgentName)

	// Health defaults
	viper.SetDefault("health.idle_threshold_minutes", defaults.Health.IdleThresholdMinutes)

	// Branch defaults
	viper.SetDefault("branch.prefix", defaults.Branch.Prefix)

	// Cleanup defaults
	viper.SetDefault("cleanup.max_age_days", defaults.Cleanup.MaxAgeDays)
	viper.SetDefault("cleanup.keep_remote_branches", defaults.Cleanup.KeepRemoteBranches)
	viper.SetDefault("cleanup.warn_on_stale", defaults.Cleanup.WarnOnStale)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "shardflow")
	}
	// Fall back to ~/.config/shardflow
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shardflow"
	}
	return filepath.Join(home, ".config", "shardflow")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
