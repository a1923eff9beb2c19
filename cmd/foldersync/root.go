package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"

	"github.com/arthur-debert/foldersync/pkg/foldersync"
)

const envPrefix = "FOLDERSYNC"

// config is the resolved command line, environment and config file input.
type config struct {
	source   string
	replica  string
	interval time.Duration
	logFile  string
	logLevel string
	excludes []string
	workers  int
	once     bool
	dryRun   bool
	lockFile string
}

// newRootCmd builds the foldersync command with its own viper instance.
func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "foldersync <source> <replica> <interval-seconds>",
		Short: "Periodically mirror a source folder into a replica folder",
		Long: `foldersync keeps the replica folder an exact copy of the source folder.
Every interval it removes what the source no longer has, creates missing
folders, and copies new or changed files. Every change is logged to stdout
and to the log file.`,
		Args:          cobra.ExactArgs(3),
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(v, args)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.String("log-file", "./log.txt", "log file, appended to (empty disables it)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.StringSlice("exclude", nil, "doublestar pattern of relative paths to leave alone (repeatable)")
	flags.Int("workers", 0, "files fingerprinted in parallel (default number of CPUs)")
	flags.Bool("once", false, "run a single cycle and exit")
	flags.Bool("dry-run", false, "log planned changes without applying them")
	flags.String("lock-file", "", "advisory lock file keeping other instances off the replica")
	flags.String("config", "", "YAML or JSON config file")
	// --log_file and friends keep working
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Errorf("config read '%s': %w", path, err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

func buildConfig(v *viper.Viper, args []string) (config, error) {
	seconds, err := strconv.Atoi(args[2])
	if err != nil || seconds <= 0 {
		return config{}, errors.Errorf("interval must be a positive number of seconds, got %q", args[2])
	}
	return config{
		source:   args[0],
		replica:  args[1],
		interval: time.Duration(seconds) * time.Second,
		logFile:  v.GetString("log-file"),
		logLevel: v.GetString("log-level"),
		excludes: v.GetStringSlice("exclude"),
		workers:  v.GetInt("workers"),
		once:     v.GetBool("once"),
		dryRun:   v.GetBool("dry-run"),
		lockFile: v.GetString("lock-file"),
	}, nil
}

func run(ctx context.Context, stdout io.Writer, cfg config) error {
	level, err := foldersync.LogLevelFromString(cfg.logLevel)
	if err != nil {
		return errors.Errorf("log level %q: %w", cfg.logLevel, err)
	}
	logger, closeLog, err := foldersync.NewFileLogger(stdout, cfg.logFile, level)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeLog()
	}()

	if cfg.lockFile != "" {
		lock, err := foldersync.AcquireLock(cfg.lockFile)
		if err != nil {
			return err
		}
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				logger.Warn().Err(releaseErr).Str("lock_file", lock.Path()).Msg("failed to release lock")
			}
		}()
	}

	syncer, err := foldersync.New(cfg.source, cfg.replica, cfg.interval, logger,
		foldersync.WithExcludes(cfg.excludes...),
		foldersync.WithWorkers(cfg.workers),
		foldersync.WithDryRun(cfg.dryRun))
	if err != nil {
		return err
	}

	if cfg.once {
		_, err = syncer.RunCycle(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
	} else {
		err = syncer.Run(ctx)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Sync stopped")
	}
	return err
}

// Execute runs the root command with ctx and exits with status 1 on failure.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
