package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/config"
	"github.com/scalarorg/kakarot-relayer/internal/relayer"
	"github.com/scalarorg/kakarot-relayer/pkg/tracing"
	"github.com/spf13/cobra"
)

var (
	environment string
	rootCmd     = &cobra.Command{
		Use:   "relayer",
		Short: "Kakarot Relayer",
		Long:  "Ethereum JSON-RPC relayer submitting transactions to the Kakarot Starknet execution layer",
		RunE:  run,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(environment)
	if err != nil {
		return err
	}
	config.InitLogger(cfg.Log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	service, err := relayer.NewService(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create relayer service")
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- service.Start(ctx)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("Shutting down relayer...")
		cancel()
		err = <-done
	case err = <-done:
		if err != nil {
			log.Error().Err(err).Msg("Relayer service exited")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if stopErr := service.Stop(shutdownCtx); stopErr != nil {
		log.Warn().Err(stopErr).Msg("Failed to stop relayer service cleanly")
	}
	if traceErr := shutdownTracer(shutdownCtx); traceErr != nil {
		log.Warn().Err(traceErr).Msg("Failed to flush traces")
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&environment,
		"env",
		"local",
		"Environment name of the configuration file under the config path",
	)
}
