package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/hotword-go/internal/buildinfo"
)

// Command prints build information.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildinfo.Current()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "hotword %s (built %s, %s, %s)\n",
				info.GetVersion(), info.GetBuildDate(), info.GoVersion, info.Platform)
			return err
		},
	}
}
