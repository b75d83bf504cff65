package commands

import (
	"github.com/spf13/cobra"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/internal/store"
	tmos "github.com/notesync/notesync/libs/os"
)

// MakeInitCommand returns the command that writes config.toml and an empty
// repository list into the home directory. Existing files are left alone.
func MakeInitCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the notesync home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(conf)
			if err != nil {
				return err
			}

			cfgFile := config.ConfigFilePath(conf.RootDir)
			if tmos.FileExists(cfgFile) {
				logger.Info("found config file", "path", cfgFile)
			} else {
				if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
					return err
				}
				logger.Info("generated config file", "path", cfgFile)
			}

			if conf.RepositoryFile == "" {
				return nil
			}
			if _, err := store.NewFileStore(logger, conf.RepositoryFilePath()); err != nil {
				return err
			}
			logger.Info("repository file ready", "path", conf.RepositoryFilePath())
			return nil
		},
	}
}
