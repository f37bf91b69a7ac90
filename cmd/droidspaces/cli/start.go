package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/droidspaces/droidspaces/internal/pkg/boot"
	"github.com/droidspaces/droidspaces/internal/pkg/cgroups"
	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/devices"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/internal/pkg/kernelcheck"
	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
	"github.com/droidspaces/droidspaces/internal/pkg/namemgr"
	"github.com/droidspaces/droidspaces/internal/pkg/netconf"
	"github.com/droidspaces/droidspaces/internal/pkg/platform"
	"github.com/droidspaces/droidspaces/internal/pkg/pty"
	"github.com/droidspaces/droidspaces/internal/pkg/rootfsimg"
	"github.com/droidspaces/droidspaces/pkg/sylog"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a container",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

// runStart implements §4.7 start: preflight, name allocation, optional
// image mount, console/tty allocation, the monitor fork, and either a
// foreground proxy or a background marker wait.
func runStart() error {
	report := kernelcheck.Probe()
	if !report.Sufficient() {
		return errors.Wrapf(ds.ErrKernelUnsupported,
			"kernel %d.%d lacks a required namespace or is below the %d.%d minimum",
			report.KernelMajor, report.KernelMinor, platform.MinimumKernelMajor, platform.MinimumKernelMinor)
	}

	c, err := buildContainer()
	if err != nil {
		return err
	}

	allocated, err := namemgr.Allocate(c.Name, monitor.NameAlive)
	if err != nil {
		return err
	}
	if allocated != c.Name {
		c.Name = allocated
		if flags.hostname == "" {
			c.Hostname = allocated
		}
		if flags.pidfile == "" {
			c.PIDFile = monitor.PidFilePath(allocated)
		}
	}

	if err := os.MkdirAll(container.RunDir, 0o755); err != nil {
		return errors.Wrap(err, "creating run directory")
	}

	if c.RootfsImgPath != "" {
		reused := monitor.ConsumeRestartMarker(c.Name)
		existingMount, _, hasExisting := monitor.ReadMountSidecar(c.Name)
		if reused && hasExisting {
			// §8 scenario 3 (preserved-mount property): a restart leaves the
			// previous loop mount intact, so reuse it rather than attaching a
			// fresh loop device.
			c.RootfsPath = existingMount
			c.IsImgMount = true
			c.ImgMountPoint = existingMount
			sylog.Debugf("reusing preserved mount %s for %s", existingMount, c.Name)
		} else {
			rootfsimg.Fsck(c.RootfsImgPath)
			rootfsimg.Relabel(c.RootfsImgPath)
			mountPoint := rootfsimg.MountPointForContainer(c.Name)
			loopPath, err := rootfsimg.Mount(c.RootfsImgPath, mountPoint)
			if err != nil {
				return err
			}
			c.RootfsPath = mountPoint
			c.IsImgMount = true
			c.ImgMountPoint = mountPoint
			if err := monitor.WriteMountSidecar(c.Name, mountPoint, loopPath); err != nil {
				sylog.Warningf("recording mount sidecar: %s", err)
			}
			sylog.Debugf("mounted %s via %s at %s", c.RootfsImgPath, loopPath, mountPoint)
		}
	}

	// Parent side: configure host networking before handing off to the
	// monitor/init stages (§4.7 start step 12). Best-effort: a container
	// sharing the host network stack still boots without forwarding/NAT,
	// just without outbound connectivity for guests behind it.
	if err := netconf.BringUpLoopback(); err != nil {
		sylog.Warningf("bringing up host loopback: %s", err)
	}
	if err := netconf.EnableIPv4Forwarding(); err != nil {
		sylog.Warningf("enabling ipv4 forwarding: %s", err)
	}
	if err := netconf.SetIPv6Enabled(c.Flags.IPv6Enabled); err != nil {
		sylog.Warningf("setting host ipv6 state: %s", err)
	}
	if platform.IsAndroid() {
		if err := netconf.AndroidIPTablesPolicy(); err != nil {
			sylog.Warningf("applying android iptables policy: %s", err)
		}
	}

	console, ttys, err := pty.AllocateSet(devices.NumAuxTTYs)
	if err != nil {
		return errors.Wrap(err, "allocating console and tty pairs")
	}
	ttySlaves := make([]string, len(ttys))
	for i, t := range ttys {
		ttySlaves[i] = t.SlavePath
	}

	hostHierarchies, err := cgroups.DiscoverHost()
	if err != nil {
		sylog.Warningf("discovering host cgroup hierarchies: %s", err)
	}
	cgroupNSActive, err := cgroups.NamespaceActive()
	if err != nil {
		cgroupNSActive = false
	}
	kernelMajor, _, _ := platform.KernelVersion()

	cfg := boot.Config{
		Container:       c,
		ConsoleSlave:    console.SlavePath,
		TTYSlaves:       ttySlaves,
		ResolvConf:      netconf.ResolvConf(c.DNSServers),
		HostHierarchies: hostHierarchies,
		CgroupNSActive:  cgroupNSActive,
		KernelMajor:     kernelMajor,
	}

	configPath := filepath.Join(container.RunDir, c.Name+".bootcfg.json")
	if err := writeBootConfig(configPath, cfg); err != nil {
		return err
	}

	_, initPID, err := monitor.ForkMonitor([]string{"--config", configPath}, nil)
	if err != nil {
		os.Remove(configPath)
		return err
	}

	if err := monitor.WritePIDFile(c.Name, initPID, flags.pidfile); err != nil {
		return err
	}

	if c.Flags.Foreground {
		restore, err := pty.RawMode()
		if err == nil {
			defer restore()
		}
		if err := pty.ApplyStdinSize(console.Master); err != nil {
			sylog.Debugf("applying tty size: %s", err)
		}
		return pty.ProxyLoop(console.Master, initPID)
	}

	if err := monitor.WaitForMarker(initPID, 5*time.Second); err != nil {
		return err
	}
	fmt.Printf("%s started, pid %d\n", c.Name, initPID)
	return nil
}
