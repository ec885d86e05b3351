package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/hotword-go/cmd/config"
	"github.com/tphakala/hotword-go/cmd/devices"
	"github.com/tphakala/hotword-go/cmd/file"
	"github.com/tphakala/hotword-go/cmd/realtime"
	"github.com/tphakala/hotword-go/cmd/version"
	"github.com/tphakala/hotword-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hotword",
		Short:         "Real-time hotword detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	versionCmd := version.Command()
	rootCmd.AddCommand(
		realtime.Command(settings),
		file.Command(settings),
		devices.Command(settings),
		config.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		// flags were bound to viper, refresh settings so they take precedence
		if err := conf.SyncViper(settings); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	flags.StringVar(&settings.Detector.Engine, "engine", settings.Detector.Engine, "Detection engine: energy or tflite")
	flags.Float64VarP(&settings.Detector.Sensitivity, "sensitivity", "s", settings.Detector.Sensitivity, "Detection threshold between 0.0 and 1.0")
	flags.StringSliceVar(&settings.Detector.Labels, "labels", settings.Detector.Labels, "Hotword names, the first maps to score 1")
	flags.BoolVar(&settings.Output.SQLite.Enabled, "sqlite", settings.Output.SQLite.Enabled, "Store results in the SQLite history")

	return conf.BindFlags(viper.GetViper(), flags, map[string]string{
		"debug":                 "debug",
		"detector.engine":       "engine",
		"detector.sensitivity":  "sensitivity",
		"detector.labels":       "labels",
		"output.sqlite.enabled": "sqlite",
	})
}
