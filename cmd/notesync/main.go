package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/notesync/notesync/cmd/notesync/commands"
	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/libs/cli"
)

func main() {
	ctx := context.Background()

	conf := config.DefaultConfig()

	rootCmd := commands.RootCommand(conf)
	rootCmd.AddCommand(
		commands.MakeInitCommand(conf),
		commands.NewRunNodeCmd(conf),
		commands.MakeShowNodeNameCommand(conf),
		commands.VersionCmd,
	)

	cmd := cli.PrepareBaseCmd(rootCmd, commands.EnvPrefix,
		os.ExpandEnv(filepath.Join("$HOME", config.DefaultNoteSyncDir)))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
