package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at link time with -ldflags, matching the teacher's
// version-stamping convention; it defaults to "dev" for local builds.
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the droidspaces version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("droidspaces", Version)
			return nil
		},
	}
}
