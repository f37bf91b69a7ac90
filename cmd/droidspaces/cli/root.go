// Package cli assembles the droidspaces command tree. Grounded on the
// teacher's cmd/internal/cli/apptainer.go root command pattern, simplified
// to use spf13/cobra directly instead of the teacher's cmdline.CommandManager
// wrapper: that wrapper exists to serve a docs generator and a plugin
// registration hook, neither of which droidspaces' single-binary design
// carries (see DESIGN.md).
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/pkg/errors"
)

// globalFlags mirrors the flag table of §6; every command except run parses
// these in any order relative to the command name, since cobra's persistent
// flags are gathered before and after the subcommand alike.
type globalFlags struct {
	rootfs          string
	rootfsImg       string
	name            string
	pidfile         string
	hostname        string
	dns             string
	foreground      bool
	hwAccess        bool
	enableIPv6      bool
	androidStorage  bool
	selinuxPermiss  bool
	volatile        bool
	bindMounts      string
}

var flags globalFlags

// Execute builds the command tree, runs it, and returns the process exit
// code (§6): 0 on success, 1 on user/kernel/resource error, 127 forwarded
// from a run target's exec failure.
func Execute() int {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		if !root.SilenceErrors {
			fmt.Fprintln(os.Stderr, "droidspaces:", err)
		}
		return ds.ExitCode(err)
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "droidspaces",
		Short:         "Single-binary container runtime for desktop Linux and legacy Android kernels",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.rootfs, "rootfs", "r", "", "directory rootfs (mutually exclusive with --rootfs-img)")
	pf.StringVarP(&flags.rootfsImg, "rootfs-img", "i", "", "image rootfs; requires --name")
	pf.StringVarP(&flags.name, "name", "n", "", "container identifier (mutually exclusive with --pidfile)")
	pf.StringVarP(&flags.pidfile, "pidfile", "p", "", "custom pid file path")
	pf.StringVarP(&flags.hostname, "hostname", "h", "", "container hostname (defaults to name)")
	pf.StringVarP(&flags.dns, "dns", "d", "", "comma-separated dns servers override")
	pf.BoolVarP(&flags.foreground, "foreground", "f", false, "attach console")
	pf.BoolVar(&flags.hwAccess, "hw-access", false, "expose host devtmpfs to container")
	pf.BoolVar(&flags.enableIPv6, "enable-ipv6", false, "enable ipv6 in the container")
	pf.BoolVar(&flags.androidStorage, "enable-android-storage", false, "bind-mount android shared storage")
	pf.BoolVar(&flags.selinuxPermiss, "selinux-permissive", false, "set host selinux to permissive")
	pf.BoolVarP(&flags.volatile, "volatile", "V", false, "ephemeral mode")
	pf.StringVarP(&flags.bindMounts, "bind-mount", "B", "", "custom bind mounts SRC:DEST[,...]")

	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newEnterCmd(),
		newRunCmd(),
		newStatusCmd("status"),
		newStatusCmd("info"),
		newStatusCmd("show"),
		newScanCmd(),
		newPidCmd(),
		newCheckCmd(),
		newVersionCmd(),
		newInternalBootCmd(),
		newInternalEnterCmd(),
	)
	root.AddCommand(newDocsCmd(root))
	return root
}

// buildContainer assembles a *container.Container from the parsed global
// flags, applying the defaulting and mutual-exclusion rules of §3/§6.
func buildContainer() (*container.Container, error) {
	if flags.rootfs != "" && flags.rootfsImg != "" {
		return nil, errors.Wrap(ds.ErrConfiguration, "--rootfs and --rootfs-img are mutually exclusive")
	}
	if flags.rootfs == "" && flags.rootfsImg == "" {
		return nil, errors.Wrap(ds.ErrConfiguration, "one of --rootfs or --rootfs-img is required")
	}
	if flags.rootfsImg != "" && flags.name == "" {
		return nil, errors.Wrap(ds.ErrConfiguration, "--rootfs-img requires --name")
	}
	if flags.name != "" && flags.pidfile != "" {
		return nil, errors.Wrap(ds.ErrConfiguration, "--name and --pidfile are mutually exclusive")
	}

	name := flags.name
	if name == "" {
		derived, err := container.DeriveNameFromOSRelease(flags.rootfs)
		if err != nil {
			derived = "droidspaces"
		}
		name = derived
	}

	c, err := container.New(name)
	if err != nil {
		return nil, err
	}
	c.RootfsPath = flags.rootfs
	c.RootfsImgPath = flags.rootfsImg
	if flags.hostname != "" {
		c.Hostname = flags.hostname
	}
	if flags.pidfile != "" {
		c.PIDFile = flags.pidfile
	}
	if flags.dns != "" {
		for _, d := range strings.Split(flags.dns, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				c.DNSServers = append(c.DNSServers, d)
			}
		}
	}
	c.Flags = container.Flags{
		Foreground:        flags.foreground,
		HWAccess:           flags.hwAccess,
		Volatile:           flags.volatile,
		IPv6Enabled:        flags.enableIPv6,
		AndroidStorage:     flags.androidStorage,
		SELinuxPermissive:  flags.selinuxPermiss,
	}

	if flags.bindMounts != "" {
		for _, entry := range strings.Split(flags.bindMounts, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, ":", 2)
			if len(parts) != 2 {
				return nil, errors.Wrapf(ds.ErrConfiguration, "bind mount %q must be SRC:DEST", entry)
			}
			if err := c.AddBind(parts[0], parts[1]); err != nil {
				return nil, err
			}
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
