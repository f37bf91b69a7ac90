package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
	"github.com/droidspaces/droidspaces/internal/pkg/rootfsimg"
	"github.com/droidspaces/droidspaces/pkg/sylog"
)

func newStopCmd() *cobra.Command {
	var skipUnmount bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop one or more containers (comma-separated names)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(skipUnmount)
		},
	}
	cmd.Flags().BoolVar(&skipUnmount, "preserve-mounts", false, "keep the image mount across an immediately following start")
	return cmd
}

// runStop stops every comma-separated name in --name, releasing its image
// loop mount and sidecars unless skipUnmount is set (the restart path uses
// skipUnmount to implement the preserved-mount property of §8).
func runStop(skipUnmount bool) error {
	names := strings.Split(flags.name, ",")
	var firstErr error
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := stopOne(name, skipUnmount); err != nil {
			sylog.Errorf("stopping %s: %s", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func stopOne(name string, skipUnmount bool) error {
	c := &container.Container{Name: name}
	if err := monitor.Stop(c, skipUnmount); err != nil {
		return err
	}

	if !skipUnmount {
		if mountPoint, loopPath, ok := monitor.ReadMountSidecar(name); ok {
			if err := rootfsimg.Unmount(mountPoint, loopPath, false); err != nil {
				sylog.Warningf("unmounting image for %s: %s", name, err)
			}
		}
		monitor.RemoveSidecars(name)
	}
	return nil
}
