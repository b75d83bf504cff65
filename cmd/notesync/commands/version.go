package commands

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/version"
)

// VersionCmd prints the software and protocol versions.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return nil
		}

		bs, err := json.Marshal(struct {
			Version  string `json:"version"`
			Protocol string `json:"protocol"`
			Go       string `json:"go"`
		}{
			Version:  version.Version,
			Protocol: version.ProtocolVersion,
			Go:       runtime.Version(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(bs))
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("verbose", "v", false, "Show protocol and Go versions")
}
