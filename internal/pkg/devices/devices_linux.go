// Package devices assembles the container's /dev tree: isolated mode
// builds a curated node set with mknod, HW-access mode repopulates real
// character devices from the host's devtmpfs. Grounded on the teacher's
// addSessionDev/addSessionDevAt device-staging helpers in
// internal/pkg/runtime/engine/apptainer/container_linux.go, replaced here
// with direct mknod/bind calls since droidspaces has no session directory
// layer — the boot sequence mutates the private mount namespace directly.
package devices

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/fs"
)

// node describes one device node to create under /dev in isolated mode.
type node struct {
	name       string
	major, minor uint32
	mode       uint32 // S_IFCHR | permission bits
}

// curated is the minimal device set mounted into every container,
// matching boot sequence step 8's isolated-mode list.
var curated = []node{
	{"null", 1, 3, unix.S_IFCHR | 0o666},
	{"zero", 1, 5, unix.S_IFCHR | 0o666},
	{"full", 1, 7, unix.S_IFCHR | 0o666},
	{"random", 1, 8, unix.S_IFCHR | 0o666},
	{"urandom", 1, 9, unix.S_IFCHR | 0o666},
	{"tty", 5, 0, unix.S_IFCHR | 0o666},
	{"console", 5, 1, unix.S_IFCHR | 0o620},
	{"ptmx", 5, 2, unix.S_IFCHR | 0o666},
	{"tun", 10, 200, unix.S_IFCHR | 0o666},
	{"fuse", 10, 229, unix.S_IFCHR | 0o666},
}

// NumAuxTTYs is the number of /dev/ttyN nodes created in addition to
// /dev/console (§4.2: N = 6).
const NumAuxTTYs = 6

// fdSymlinks are the standard self-referential /dev symlinks expected by
// most userspace (/dev/fd, /dev/stdin, ...).
var fdSymlinks = map[string]string{
	"fd":     "/proc/self/fd",
	"stdin":  "/proc/self/fd/0",
	"stdout": "/proc/self/fd/1",
	"stderr": "/proc/self/fd/2",
}

// BuildIsolated mounts a tmpfs at devDir and recreates the curated minimal
// node set plus tty1..ttyN and the standard FD symlinks.
func BuildIsolated(devDir string) error {
	if err := fs.Mount("tmpfs", devDir, "tmpfs", unix.MS_NOSUID, "mode=0755"); err != nil {
		return err
	}
	for _, n := range curated {
		if err := mknod(devDir, n); err != nil {
			return err
		}
	}
	for i := 1; i <= NumAuxTTYs; i++ {
		n := node{name: ttyName(i), major: 4, minor: uint32(i), mode: unix.S_IFCHR | 0o620}
		if err := mknod(devDir, n); err != nil {
			return err
		}
	}
	return symlinkFDs(devDir)
}

func ttyName(i int) string {
	return "tty" + strconv.Itoa(i)
}

func mknod(devDir string, n node) error {
	path := filepath.Join(devDir, n.name)
	dev := unix.Mkdev(n.major, n.minor)
	if err := unix.Mknod(path, n.mode, int(dev)); err != nil {
		return errors.Wrapf(err, "creating device node %s", path)
	}
	return nil
}

func symlinkFDs(devDir string) error {
	for name, target := range fdSymlinks {
		path := filepath.Join(devDir, name)
		_ = os.Remove(path)
		if err := os.Symlink(target, path); err != nil {
			return errors.Wrapf(err, "symlinking %s", path)
		}
	}
	return nil
}

// BuildHWAccess mounts devtmpfs (the kernel's single instance, shared with
// the host) at devDir, then unlinks and recreates every node in curated as
// a real character device (matching the host's major:minor) so the
// container cannot corrupt the host's view of those specific nodes while
// everything else under devtmpfs remains shared live state (§4.1 step 8).
func BuildHWAccess(devDir string) error {
	if err := fs.Mount("devtmpfs", devDir, "devtmpfs", 0, ""); err != nil {
		return err
	}
	for _, n := range curated {
		path := filepath.Join(devDir, n.name)
		_ = os.Remove(path)
		if err := mknod(devDir, n); err != nil {
			return err
		}
	}
	return nil
}

// BindConsole bind-mounts the slave PTY device node hostSlavePath over
// devDir/console (or devDir/ttyN), performed before pivot_root while the
// host-side slave path is still valid (§4.1 step 12).
func BindConsole(hostSlavePath, devDir, name string) error {
	target := filepath.Join(devDir, name)
	if _, err := os.Stat(target); err != nil {
		if f, cerr := os.Create(target); cerr == nil {
			f.Close()
		}
	}
	return fs.BindMount(hostSlavePath, target, false)
}

// SetupDevPts mounts a new-instance devpts at ptsDir and virtualizes ptmx
// at ptmxPath, preferring a bind mount of pts/ptmx (hwAccess mode requires
// this since /dev/ptmx there is a real char device) and falling back to a
// symlink otherwise (§4.1 step 18).
func SetupDevPts(ptsDir, ptmxPath string, hwAccess bool) error {
	if err := os.MkdirAll(ptsDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", ptsDir)
	}
	opts := "newinstance,ptmxmode=0666,mode=0620,gid=5"
	if err := fs.Mount("devpts", ptsDir, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC, opts); err != nil {
		return err
	}

	instancePtmx := filepath.Join(ptsDir, "ptmx")
	if hwAccess {
		return fs.BindMount(instancePtmx, ptmxPath, false)
	}
	if err := fs.BindMount(instancePtmx, ptmxPath, false); err == nil {
		return nil
	}
	_ = os.Remove(ptmxPath)
	return os.Symlink(instancePtmx, ptmxPath)
}
