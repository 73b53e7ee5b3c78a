// Package cmd is the cobra command layer. Commands stay thin: they parse
// flags, build a shard.Manager, and render results. All lifecycle semantics
// live in internal/shard.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shardflow/shardflow/internal/config"
	"github.com/shardflow/shardflow/internal/logging"
	"github.com/shardflow/shardflow/internal/process"
	"github.com/shardflow/shardflow/internal/session"
	"github.com/shardflow/shardflow/internal/shard"
	"github.com/shardflow/shardflow/internal/terminal"
	"github.com/shardflow/shardflow/internal/worktree"
)

var rootCmd = &cobra.Command{
	Use:   "shardflow",
	Short: "Run isolated AI-agent dev sessions in parallel",
	Long: `Shardflow manages a fleet of isolated AI-agent development sessions
("shards"): each shard gets its own git worktree, branch, port range, and
terminal window running an agent, with process tracking safe against pid
reuse.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/shardflow/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/shardflow")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SHARDFLOW")
	// SHARDFLOW_PORTS_BASE overrides ports.base, and so on.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}

// appContext bundles everything a command needs, built once per invocation.
type appContext struct {
	cfg     *config.Config
	log     *logging.Logger
	mgr     *shard.Manager
	store   session.Store
	wt      worktree.Worktrees
	tracker *process.Tracker
}

func (a *appContext) close() {
	if a.log != nil {
		_ = a.log.Close()
	}
}

// newLogger builds the debug logger from the logging config: disabled
// logging yields a no-op logger, and the rotation limits come from
// logging.max_size_mb and logging.max_backups.
func newLogger(cfg *config.Config, stateDir string) *logging.Logger {
	if !cfg.Logging.Enabled {
		return logging.NopLogger()
	}
	log, err := logging.NewLoggerWithRotation(stateDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return logging.NopLogger()
	}
	return log
}

// newAppContext wires the manager from the current directory's repository
// and the loaded configuration.
func newAppContext() (*appContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	stateDir := cfg.Paths.ResolveStateDir()
	log := newLogger(cfg, stateDir)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	wt, err := worktree.New(cwd)
	if err != nil {
		return nil, err
	}
	projectID := filepath.Base(wt.RepoDir())

	store, err := session.NewFileStore(filepath.Join(stateDir, "sessions"))
	if err != nil {
		return nil, err
	}

	registry := terminal.NewRegistry(log)
	tracker := process.NewTracker(log)

	return &appContext{
		cfg:     cfg,
		log:     log,
		mgr:     shard.NewManager(cfg, store, wt, registry, tracker, log, projectID),
		store:   store,
		wt:      wt,
		tracker: tracker,
	}, nil
}
