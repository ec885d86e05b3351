package realtime

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/hotword-go/internal/analysis"
	"github.com/tphakala/hotword-go/internal/conf"
)

// Command creates a new command for real-time hotword detection.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Detect hotwords from the capture device",
		Long:  "Capture audio from the configured device and run hotword detection until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return analysis.RealtimeAnalysis(ctx, settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	flags := cmd.Flags()
	flags.StringVar(&settings.Audio.Source, "source", settings.Audio.Source, "Audio capture device name or ID (\"default\", \"USB Audio\", ...)")
	flags.StringVar(&settings.Audio.Backend, "backend", settings.Audio.Backend, "Audio backend: auto, alsa, pulse, wasapi, coreaudio")
	flags.Float64Var(&settings.Audio.InputGain, "gain", settings.Audio.InputGain, "Capture gain applied before detection")
	flags.BoolVar(&settings.WebServer.Enabled, "webserver", settings.WebServer.Enabled, "Serve the status and control API")
	flags.StringVar(&settings.WebServer.Listen, "listen", settings.WebServer.Listen, "Listen address of the status and control API")

	return conf.BindFlags(viper.GetViper(), flags, map[string]string{
		"audio.source":      "source",
		"audio.backend":     "backend",
		"audio.inputgain":   "gain",
		"webserver.enabled": "webserver",
		"webserver.listen":  "listen",
	})
}
