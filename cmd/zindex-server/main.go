package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matteso1/zindex/internal/config"
	"github.com/matteso1/zindex/internal/server"
)

var (
	configPath  string
	addr        string
	metricsAddr string
	logLevel    string

	rootCmd = &cobra.Command{
		Use:          "zindex-server",
		Short:        "Serve in-memory sorted sets over TCP",
		SilenceUsage: true,
		RunE:         runServer,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus /metrics address, empty disables (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = addr
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Server.MetricsAddr = metricsAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	return srv.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
