package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Coffee285/AVS-sub001/internal/daemon"
	"github.com/Coffee285/AVS-sub001/internal/logging"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the reelkit daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			runID := time.Now().UTC().Format("20060102T150405.000Z")
			logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("reelkit-%s.log", runID))
			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			logger, err := logging.New(logging.Options{
				Level:            level,
				Format:           cfg.Logging.Format,
				OutputPaths:      []string{"stdout", logPath},
				ErrorOutputPaths: []string{"stderr", logPath},
				Development:      development,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if err := pointCurrentLog(cfg.Paths.LogDir, logPath); err != nil {
				fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.LogFileName, err)
			}

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}
			return d.Run(signalCtx)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

// pointCurrentLog keeps reelkit.log pointing at the active run's log.
func pointCurrentLog(logDir, target string) error {
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(filepath.Base(target), current)
}
