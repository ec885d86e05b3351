package devices

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/hotword-go/internal/audiocore/sources"
	"github.com/tphakala/hotword-go/internal/conf"
)

// Command lists the audio capture devices.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := sources.ListAvailableDevices(settings.Audio.Backend)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME\tID\tDEFAULT")
			for _, d := range devices {
				def := ""
				if d.Default {
					def = "*"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.Index, d.Name, d.ID, def)
			}
			return tw.Flush()
		},
	}
}
