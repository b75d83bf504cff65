package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/internal/discovery"
)

// MakeShowNodeNameCommand returns the command that prints the instance name
// this node advertises on the local network.
func MakeShowNodeNameCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show-node-name",
		Short: "Show the advertised discovery name of this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := conf.P2P.Port()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), discovery.NodeName(conf.Discovery.NamePrefix, conf.Moniker, port))
			return nil
		},
	}
}
