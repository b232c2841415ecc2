package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/sunrised/internal/app"
	"github.com/dokzlo13/sunrised/internal/config"
	"github.com/dokzlo13/sunrised/internal/version"
)

const redacted = "<redacted>"

var configPath string

// errRestart makes main exit with the restart status after a clean shutdown.
var errRestart = errors.New("restart requested")

var rootCmd = &cobra.Command{
	Use:   "sunrised",
	Short: "Sunrise alarm light controller",
	Long: `Ramps a dimmable light from off to a configured brightness so that the
ramp completes at the alarm time. Commands arrive over the web UI, MQTT,
Telegram and an MCP tool endpoint.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Load configuration
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		// Setup logging
		setupLogging(cfg.Log.Level, cfg.Log.UseJSON, cfg.Log.Colors)

		log.Info().Str("config", configPath).Str("version", version.Version).Msg("Starting sunrised")

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("create application: %w", err)
		}

		// Create context that cancels on shutdown signal
		ctx := app.SignalContext()

		if err := application.Start(ctx); err != nil {
			_ = application.Stop()
			return fmt.Errorf("start application: %w", err)
		}

		// Wait for shutdown
		application.Wait()

		// Graceful shutdown
		if err := application.Stop(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}

		if application.RestartRequested() {
			return errRestart
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the configuration and print it with defaults applied",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.MQTT.Password != "" {
			cfg.MQTT.Password = redacted
		}
		if cfg.Telegram.Token != "" {
			cfg.Telegram.Token = redacted
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.AddCommand(configCmd)
	version.AttachCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errRestart) {
			log.Info().Int("exit_code", app.RestartExitCode).Msg("Exiting for restart")
			os.Exit(app.RestartExitCode)
		}
		log.Error().Err(err).Msg("sunrised failed")
		os.Exit(1)
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
