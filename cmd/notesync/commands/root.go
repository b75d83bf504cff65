package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/libs/log"
)

// EnvPrefix is the prefix of environment variables that override config
// values, e.g. NOTESYNC_P2P_LADDR.
const EnvPrefix = "NOTESYNC"

// ParseConfig retrieves the default environment configuration, sets up the
// notesync root and ensures that the root exists.
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point for notesync
// nodes. The caller is expected to pass the result through
// cli.PrepareBaseCmd, which loads the config file before conf is parsed.
func RootCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notesync",
		Short: "Peer-to-peer note repository synchronization",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf

			return config.EnsureRoot(conf.RootDir)
		},
	}
	cmd.PersistentFlags().String("log-level", conf.LogLevel, "log level")
	cmd.PersistentFlags().String("log-format", conf.LogFormat, "log format (plain|json)")
	return cmd
}

func newLogger(conf *config.Config) (log.Logger, error) {
	logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
