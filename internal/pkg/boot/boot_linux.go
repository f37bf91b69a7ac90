// Package boot implements the init-side boot sequence: the strictly
// ordered transformation of a bare forked process into PID 1 of an
// isolated container, ending in execve of /sbin/init. Grounded on the
// teacher's StartProcess/PostStartProcess ordering in
// internal/pkg/runtime/engine/apptainer/container_linux.go, reshaped
// around droidspaces' fixed step list instead of an OCI spec walk.
package boot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/cgroups"
	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/devices"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/internal/pkg/fs"
	"github.com/droidspaces/droidspaces/internal/pkg/netconf"
	"github.com/droidspaces/droidspaces/internal/pkg/overlay"
	"github.com/droidspaces/droidspaces/internal/pkg/platform"
	"github.com/droidspaces/droidspaces/internal/pkg/seccomp"
	dsselinux "github.com/droidspaces/droidspaces/internal/pkg/selinux"
	dsenv "github.com/droidspaces/droidspaces/internal/pkg/util/env"
	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// uuidMarkerName is the sync file the parent leaves in the rootfs before
// fork and the boot sequence reads and unlinks at step 6.
const uuidMarkerName = ".droidspaces-uuid"

// Config is everything the boot sequence needs that does not come from
// querying the kernel directly: the fields of container.Container plus
// the console/tty slave paths and stashed resolv.conf content computed by
// the parent before fork.
type Config struct {
	Container      *container.Container
	ConsoleSlave    string
	TTYSlaves       []string
	ResolvConf      string
	HostHierarchies []cgroups.Hierarchy
	CgroupNSActive  bool
	KernelMajor     int
}

// Run executes the ordered sequence of §4.1 and, on success, execve's
// /sbin/init. On failure before step 17 (pivot_root), it returns an error
// with no host-visible mutation (the mount namespace is private). Past
// step 17 a failure is unrecoverable for this process; the monitor
// observes the exit.
func Run(cfg Config) error {
	c := cfg.Container

	// Step 1: private mount namespace.
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return errors.Wrap(err, "unsharing mount namespace")
	}
	if err := fs.MakePrivateRecursive("/"); err != nil {
		return err
	}

	if c.Flags.SELinuxPermissive && dsselinux.Enabled() {
		if err := dsselinux.SetPermissive(); err != nil {
			sylog.Warningf("setting selinux permissive: %s", err)
		}
	}

	// Step 2: adaptive seccomp shield.
	seccomp.Install(cfg.KernelMajor, isSystemdInit(c.RootfsPath))

	// Step 3: volatile overlay.
	rootfs := c.RootfsPath
	if c.Flags.Volatile {
		ws := overlay.NewWorkspace("/run/droidspaces/volatile", c.Name)
		if err := overlay.CheckLower(rootfs); err != nil {
			return errors.Wrap(ds.ErrBootFailure, err.Error())
		}
		if err := overlay.Build(ws, rootfs, c.Flags.SELinuxPermissive); err != nil {
			return errors.Wrap(err, "building volatile overlay")
		}
		rootfs = ws.Merged
	}

	// Step 4: self-bind rootfs so pivot_root's new-root-is-a-mount requirement holds.
	if err := fs.BindMount(rootfs, rootfs, true); err != nil {
		return errors.Wrap(err, "self-binding rootfs")
	}

	// Step 5: chdir into rootfs; everything below is relative.
	if err := unix.Chdir(rootfs); err != nil {
		return errors.Wrapf(err, "chdir into rootfs %s", rootfs)
	}

	// Step 6: consume the UUID sync file (skipped for volatile/readonly).
	if !c.Flags.Volatile {
		if err := consumeUUIDMarker(c.UUID); err != nil {
			sylog.Debugf("uuid sync file not consumed: %s", err)
		}
	}

	// Step 7: prepare .old_root.
	if err := os.MkdirAll(".old_root", 0o700); err != nil {
		return errors.Wrap(err, "creating .old_root")
	}

	// Step 8: assemble /dev.
	if c.Flags.HWAccess {
		if err := devices.BuildHWAccess("dev"); err != nil {
			return err
		}
	} else {
		if err := devices.BuildIsolated("dev"); err != nil {
			return err
		}
	}

	// Step 9: procfs.
	if err := fs.Mount("proc", "proc", "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil {
		return err
	}

	// Step 10: sysfs.
	if err := mountSys(c.Flags.HWAccess); err != nil {
		return err
	}

	// Step 11: /run tmpfs.
	if err := fs.Mount("tmpfs", "run", "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "mode=0755"); err != nil {
		return err
	}

	// Step 12: bind console/tty PTYs (while host-side slave paths are still valid).
	if err := devices.BindConsole(cfg.ConsoleSlave, "dev", "console"); err != nil {
		return err
	}
	for i, slave := range cfg.TTYSlaves {
		if err := devices.BindConsole(slave, "dev", fmt.Sprintf("tty%d", i+1)); err != nil {
			return err
		}
	}

	// Step 13: discovery markers.
	if err := fs.WriteFileAtomic(filepath.Join("run", c.UUID), nil, 0o644); err != nil {
		return err
	}
	if err := fs.WriteFileAtomic(filepath.Join("run", "droidspaces"), nil, 0o644); err != nil {
		return err
	}

	// Step 14: cgroup setup.
	if err := cgroups.SetupContainerSide("sys/fs/cgroup", cfg.HostHierarchies, cfg.CgroupNSActive); err != nil {
		sylog.Warningf("cgroup setup incomplete: %s", err)
	}

	// Step 15: Android storage.
	if c.Flags.AndroidStorage {
		if err := os.MkdirAll(filepath.Join("storage", "emulated", "0"), 0o755); err == nil {
			_ = fs.BindMount("/storage/emulated/0", filepath.Join("storage", "emulated", "0"), true)
		}
	}

	// Step 16: custom bind mounts.
	for _, b := range c.Binds {
		if err := bindCustom(rootfs, b); err != nil {
			sylog.Warningf("bind mount %s -> %s skipped: %s", b.Src, b.Dest, err)
		}
	}

	// Step 17: pivot_root.
	if err := unix.PivotRoot(".", ".old_root"); err != nil {
		return errors.Wrap(err, "pivot_root")
	}
	if err := unix.Chdir("/"); err != nil {
		return errors.Wrap(err, "chdir to new root")
	}

	// Step 18: devpts.
	if err := devices.SetupDevPts("/dev/pts", "/dev/ptmx", c.Flags.HWAccess); err != nil {
		return err
	}

	// Step 19: rootfs networking.
	if err := setupNetworking(c, cfg.ResolvConf); err != nil {
		sylog.Warningf("rootfs networking setup incomplete: %s", err)
	}

	// Step 20: detach .old_root.
	_ = fs.Unmount("/.old_root", unix.MNT_DETACH)
	_ = os.Remove("/.old_root")

	// Step 21: identity marker.
	if err := fs.MkdirAll("/run/systemd", 0o755); err == nil {
		_ = fs.WriteFileAtomic("/run/systemd/container", []byte("droidspaces\n"), 0o644)
	}

	// Step 22: environment.
	for _, kv := range os.Environ() {
		name := kv[:indexByte(kv, '=')]
		_ = os.Unsetenv(name)
	}
	if err := dsenv.SetFromList(dsenv.Minimal()); err != nil {
		return err
	}
	_ = dsenv.LoadFile("/etc/environment")

	// Step 23: controlling terminal.
	if err := attachConsole(); err != nil {
		return err
	}

	// Step 24: execve /sbin/init.
	initPath := "/sbin/init"
	if _, err := os.Lstat(initPath); err != nil {
		return errors.Wrapf(ds.ErrBootFailure, "%s not found: %s", initPath, err)
	}
	if err := unix.Exec(initPath, []string{initPath}, os.Environ()); err != nil {
		return errors.Wrapf(ds.ErrBootFailure, "exec %s: %s", initPath, err)
	}
	return nil // unreachable
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return len(s)
}

func consumeUUIDMarker(uuid string) error {
	data, err := os.ReadFile(uuidMarkerName)
	if err != nil {
		return err
	}
	defer os.Remove(uuidMarkerName)
	if string(data) != uuid {
		return fmt.Errorf("uuid sync file mismatch")
	}
	return nil
}

// isSystemdInit checks whether /sbin/init under rootfs resolves to
// systemd, used to decide whether the seccomp shield's namespace-creating
// clone/unshare rule applies (§4.5).
func isSystemdInit(rootfs string) bool {
	target, err := os.Readlink(filepath.Join(rootfs, "sbin", "init"))
	if err != nil {
		return false
	}
	return filepath.Base(target) == "systemd"
}

func mountSys(hwAccess bool) error {
	if hwAccess {
		if err := fs.Mount("sysfs", "sys", "sysfs", 0, ""); err != nil {
			return err
		}
		entries, err := os.ReadDir("sys")
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				p := filepath.Join("sys", e.Name())
				_ = fs.BindMount(p, p, true)
			}
		}
	} else {
		if err := os.MkdirAll("sys/devices/virtual/net", 0o755); err != nil {
			return err
		}
		if err := fs.Mount("sysfs", "sys/devices/virtual/net", "sysfs", 0, ""); err != nil {
			sylog.Debugf("mounting scoped sysfs: %s", err)
		}
	}

	if err := fs.RemountReadOnly("sys"); err != nil {
		sylog.Debugf("remounting /sys read-only: %s", err)
	}
	consoleActive := "sys/class/tty/console/active"
	if _, err := os.Stat(consoleActive); err == nil {
		_ = fs.BindMount("dev/null", consoleActive, false)
	}
	return nil
}

func bindCustom(rootfs string, b container.Bind) error {
	if _, err := os.Stat(b.Src); err != nil {
		return errors.Wrapf(err, "bind source %s missing", b.Src)
	}
	dest := filepath.Join(".", b.Dest)
	if fi, err := os.Lstat(dest); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("bind destination %s is a symlink", b.Dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(dest); err != nil {
		if f, ferr := os.Create(dest); ferr == nil {
			f.Close()
		}
	}
	if err := fs.BindMount(b.Src, dest, true); err != nil {
		return err
	}
	real, err := filepath.EvalSymlinks(dest)
	if err == nil && !fs.IsDescendant(rootfs, real) {
		_ = fs.Unmount(dest, unix.MNT_DETACH)
		return fmt.Errorf("bind destination %s escaped rootfs after mount", b.Dest)
	}
	return nil
}

func setupNetworking(c *container.Container, resolvConf string) error {
	if err := netconf.SetHostname(c.Hostname); err != nil {
		return err
	}
	if err := netconf.WriteHosts(c.Hostname); err != nil {
		return err
	}
	if err := netconf.WriteResolvConf(resolvConf); err != nil {
		return err
	}
	if platform.IsAndroid() {
		if err := netconf.EnsureAndroidGroups(); err != nil {
			sylog.Debugf("android network groups: %s", err)
		}
	}
	return nil
}

func attachConsole() error {
	f, err := os.OpenFile("/dev/console", os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "opening /dev/console")
	}
	defer f.Close()

	if _, err := unix.Setsid(); err != nil {
		sylog.Debugf("setsid: %s", err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), unix.TIOCSCTTY, 0); err != nil {
		sylog.Debugf("TIOCSCTTY on /dev/console: %s", err)
	}
	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup2(int(f.Fd()), std); err != nil {
			return errors.Wrapf(err, "dup2 onto fd %d", std)
		}
	}
	if err := os.Chmod("/dev/console", 0o620); err != nil {
		sylog.Debugf("chmod /dev/console: %s", err)
	}
	_ = os.Chown("/dev/console", 0, 5)
	return nil
}
