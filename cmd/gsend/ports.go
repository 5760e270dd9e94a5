package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/gsend/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports on this host.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.Ports()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(w, "(none)")
		}
		for _, p := range ports {
			if !p.USB {
				fmt.Fprintln(w, p.Name)
				continue
			}
			fmt.Fprintf(w, "%s\t%s:%s %s %s\n", p.Name, p.VID, p.PID, p.Serial, p.Product)
		}
		return nil
	},
}
