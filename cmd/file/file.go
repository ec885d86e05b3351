package file

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/hotword-go/internal/analysis"
	"github.com/tphakala/hotword-go/internal/conf"
)

// Command creates a new file command for analyzing a single WAV file.
func Command(settings *conf.Settings) *cobra.Command {
	opts := analysis.FileOptions{Speed: 1, Format: analysis.FormatTable}

	cmd := &cobra.Command{
		Use:   "file [input.wav]",
		Short: "Analyze a WAV file",
		Long:  "Replay a WAV file through a detection session and print every result change.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.InputFile = args[0]
			opts.Output = cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := analysis.FileAnalysis(ctx, settings, opts)
			if err != nil {
				return err
			}
			if opts.Format == analysis.FormatTable {
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "\n%d cycles, %d result changes, %d hotword hits in %s\n",
					summary.Cycles, summary.Results, summary.Hotwords, summary.Duration.Round(10*time.Millisecond))
			}
			return err
		},
	}

	cmd.Flags().Float64Var(&opts.Speed, "speed", opts.Speed, "Replay speed, 1 is real time and 0 as fast as possible")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", opts.Format, "Output format: table, json")
	return cmd
}
