package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
)

func newPidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pid",
		Short: "Print the pid of a named container, or NONE",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPid()
		},
	}
}

// runPid prints a single machine-readable integer, or the literal "NONE",
// per §6's persisted-state/external-interface contract.
func runPid() error {
	if flags.name == "" {
		return errors.Wrap(ds.ErrConfiguration, "pid requires --name")
	}
	pid, err := monitor.ReadPIDFile(flags.name)
	if err != nil || !monitor.IsAlive(pid) {
		fmt.Println("NONE")
		return nil
	}
	fmt.Println(pid)
	return nil
}
