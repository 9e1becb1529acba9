package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/audiolibrelab/soundlines/internal/config"
	"github.com/audiolibrelab/soundlines/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "soundlines",
	Short: "Audio lines over a native sound server",
	Long: `Soundlines opens playback, capture, clip and port lines on a sound
server through a mixer, and exposes them from the command line or over HTTP.

Without a config file the built-in profile is used: the null driver with a
MIC source port and a SPEAKER target port.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		var err error
		cfg, err = config.LoadOrDefault(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "profile", cfg.Profile, "driver", cfg.Driver.Name)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/soundlines.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with source locations")

	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}

// configPath returns the config file in use, or the default location
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// openService creates the service for the loaded profile and opens its mixer
func openService() (service.Service, error) {
	svc, err := service.New(cfg, configPath())
	if err != nil {
		return nil, err
	}
	if err := svc.Open(); err != nil {
		return nil, fmt.Errorf("failed to open mixer: %w", err)
	}
	return svc, nil
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, level)))
}

// newLogHandler returns a text handler for clean terminal output. Level 1
// logs debug records; level 2 also tags every record with its source line.
func newLogHandler(w io.Writer, level int) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch level {
	case 1:
		opts.Level = slog.LevelDebug
	case 2:
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.NewTextHandler(w, opts)
}
