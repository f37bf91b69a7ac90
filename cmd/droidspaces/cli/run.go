package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/cgroups"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/internal/pkg/enter"
	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <cmd> [args...]",
		Short: "Run a command inside a running container",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(args)
		},
	}
	// Flag parsing stops at the first positional (§6), so "run bash -l"
	// hands "-l" to the target command instead of droidspaces itself.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// runRun mirrors enter's namespace-join sequence but execs an arbitrary
// command instead of a login shell; its exec failure exit code is
// forwarded verbatim to the caller (§6, §7's Post-exec class).
func runRun(args []string) error {
	if flags.name == "" {
		return errors.Wrap(ds.ErrConfiguration, "run requires --name")
	}
	if len(args) == 0 {
		return errors.Wrap(ds.ErrConfiguration, "run requires a command")
	}

	pid, err := monitor.ReadPIDFile(flags.name)
	if err != nil {
		return errors.Wrapf(ds.ErrResourceConflict, "no pid file for %s", flags.name)
	}
	if !monitor.IsAlive(pid) {
		return errors.Wrapf(ds.ErrResourceConflict, "%s is not running", flags.name)
	}

	hostHierarchies, err := cgroups.DiscoverHost()
	if err != nil {
		hostHierarchies = nil
	}
	if err := enter.Into(pid, hostHierarchies); err != nil {
		return err
	}
	if err := enter.Chroot(pid); err != nil {
		return err
	}

	if err := unix.Exec(args[0], args, []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}); err != nil {
		return errors.Wrapf(ds.ErrExecFailure, "exec %s: %s", args[0], err)
	}
	return nil // unreachable
}
