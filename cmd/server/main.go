package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/groupchat-server/internal/app"
	"github.com/vovakirdan/groupchat-server/internal/config"
	applog "github.com/vovakirdan/groupchat-server/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, addr, logLevel string

	root := &cobra.Command{
		Use:           "groupchat-server",
		Short:         "Room and group chat over WebSockets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, configPath, addr, logLevel)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), &cfg, logger)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level")
	root.Flags().StringVar(&addr, "addr", "", "override HTTP listen address")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, configPath, "", logLevel)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg)
			if err != nil {
				logger.Error().Err(err).Msg("migration failed")
				return err
			}
			logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema up to date")
			return st.Close()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

func loadConfig(cmd *cobra.Command, configPath, addr, logLevel string) (config.Config, *zerolog.Logger, error) {
	bootstrap := applog.New(logLevel)
	cfg, path, err := config.Load(bootstrap, configPath)
	if err != nil {
		bootstrap.Error().Err(err).Str("path", path).Msg("failed to load config")
		return cfg, nil, err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := applog.New(cfg.LogLevel)
	logger.Debug().Str("path", path).Str("command", cmd.Name()).Msg("config loaded")
	return cfg, logger, nil
}

func serve(parent context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Str("history_backend", cfg.HistoryBackend).Msg("starting groupchat server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
