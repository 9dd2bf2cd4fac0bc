package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulober/pyboard-serial-com/internal/discovery"
	"github.com/paulober/pyboard-serial-com/internal/dispatch"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List attached MicroPython boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := discovery.Ports()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range ports {
				fmt.Fprintln(out, p.Device)
			}
			fmt.Fprintln(out, dispatch.EOO)
			return nil
		},
	}
}
