package commands

import (
	"github.com/spf13/cobra"

	"github.com/notesync/notesync/config"
	tmos "github.com/notesync/notesync/libs/os"
	"github.com/notesync/notesync/node"
)

// AddNodeFlags exposes some common configuration options on the command-line.
func AddNodeFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().String("moniker", conf.Moniker, "node name")
	cmd.Flags().String("repository-file", conf.RepositoryFile, "repository list, relative to home")
	cmd.Flags().String("pending-dir", conf.PendingDir, "directory for repositories learned from peers")

	// p2p flags
	cmd.Flags().String("p2p.laddr", conf.P2P.ListenAddress, "node listen address, host:port")
	cmd.Flags().String("p2p.persistent-peers", conf.P2P.PersistentPeers,
		"comma-delimited host:port peers to dial at startup")
	cmd.Flags().String("p2p.endpoint-path", conf.P2P.EndpointPath, "path peer sessions are served on")

	// discovery flags
	cmd.Flags().Bool("discovery.enabled", conf.Discovery.Enabled, "advertise and browse for peers with mDNS")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus,
		"serve Prometheus metrics under /metrics")
}

// NewRunNodeCmd returns the command that runs a notesync node until it
// receives SIGINT or SIGTERM.
func NewRunNodeCmd(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the notesync node",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(conf)
			if err != nil {
				return err
			}

			n, err := node.New(conf, logger)
			if err != nil {
				return err
			}

			if err := n.Start(cmd.Context()); err != nil {
				return err
			}
			logger.Info("started node", "laddr", n.ListenAddr(), "moniker", conf.Moniker)

			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			n.Wait()
			return nil
		},
	}

	AddNodeFlags(cmd, conf)
	return cmd
}
