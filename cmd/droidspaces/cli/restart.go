package cli

import (
	"github.com/spf13/cobra"

	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
)

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop and start a container, preserving its image mount",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestart()
		},
	}
}

// runRestart implements the preserved-mount round-trip of §8 scenario 3:
// stop with skipUnmount, then start; since the mount sidecar survives, the
// subsequent start finds ConsumeRestartMarker true and the same loop mount.
func runRestart() error {
	name := flags.name
	if name == "" {
		c, err := buildContainer()
		if err != nil {
			return err
		}
		name = c.Name
	}

	if err := monitor.Stop(&container.Container{Name: name}, true); err != nil {
		return err
	}

	flags.name = name
	return runStart()
}
