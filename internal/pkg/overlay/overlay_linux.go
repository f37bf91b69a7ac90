// Package overlay implements the volatile overlay plane: preflight checks on
// the candidate lower/upper filesystems and construction of the
// tmpfs-backed upper/work/merged tree used by --volatile containers.
package overlay

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// statfs points to unix.Statfs; overridable by tests.
var statfs = unix.Statfs

type dir uint8

const (
	_ dir = 1 << iota
	lowerDir
	upperDir
	fuseDir
)

type fs struct {
	name       string
	overlayDir dir
}

// Filesystem magic numbers for OverlayFS-incompatible filesystems. F2fs is
// added to the teacher's set: it is not one apptainer guards against, but
// many Android kernels silently misbehave or deadlock when f2fs backs an
// overlay lowerdir.
const (
	Nfs    int64 = 0x6969
	Fuse   int64 = 0x65735546
	Ecrypt int64 = 0xF15F
	Lustre int64 = 0x0BD00BD0 //nolint:misspell
	Gpfs   int64 = 0x47504653
	Panfs  int64 = 0xAAD7AAEA
	F2fs   int64 = 0xF2F52010
)

var incompatibleFs = map[int64]fs{
	Nfs: {
		name:       "NFS",
		overlayDir: upperDir,
	},
	Fuse: {
		name:       "FUSE",
		overlayDir: upperDir | fuseDir,
	},
	Ecrypt: {
		name:       "ECRYPT",
		overlayDir: lowerDir | upperDir,
	},
	//nolint:misspell
	Lustre: {
		name:       "LUSTRE",
		overlayDir: lowerDir | upperDir,
	},
	Gpfs: {
		name:       "GPFS",
		overlayDir: lowerDir | upperDir,
	},
	Panfs: {
		name:       "PANFS",
		overlayDir: lowerDir | upperDir,
	},
	F2fs: {
		name:       "F2FS",
		overlayDir: lowerDir,
	},
}

func check(path string, d dir) error {
	stfs := &unix.Statfs_t{}

	if err := statfs(path, stfs); err != nil {
		return fmt.Errorf("could not retrieve underlying filesystem information for %s: %s", path, err)
	}

	fs, ok := incompatibleFs[int64(stfs.Type)]
	if !ok || (ok && fs.overlayDir&d == 0) {
		return nil
	}

	return &errIncompatibleFs{
		path: path,
		name: fs.name,
		dir:  d,
	}
}

// CheckUpper checks if path's filesystem can be used as an overlay upperdir.
func CheckUpper(path string) error {
	return check(path, upperDir)
}

// CheckLower checks if path's filesystem can be used as an overlay lowerdir.
// f2fs lowerdirs are rejected here: this is the volatile-mode preflight
// named in the boot sequence.
func CheckLower(path string) error {
	return check(path, lowerDir)
}

type errIncompatibleFs struct {
	path string
	name string
	dir  dir
}

func (e *errIncompatibleFs) Error() string {
	overlayDir := "lower"
	if e.dir == upperDir {
		overlayDir = "upper"
	}
	return fmt.Sprintf(
		"%s is located on a %s filesystem incompatible as overlay %s directory",
		e.path, e.name, overlayDir,
	)
}

// IsIncompatible reports whether err came from a failed compatibility check.
func IsIncompatible(err error) bool {
	_, ok := err.(*errIncompatibleFs)
	return ok
}

// Available reports whether the running kernel registers the overlay
// filesystem, by scanning /proc/filesystems.
func Available() (bool, error) {
	data, err := os.ReadFile("/proc/filesystems")
	if err != nil {
		return false, errors.Wrap(err, "reading /proc/filesystems")
	}
	return containsOverlayLine(string(data)), nil
}

func containsOverlayLine(contents string) bool {
	for _, line := range splitLines(contents) {
		if line == "nodev\toverlay" || line == "overlay" {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// Workspace is a volatile overlay's on-disk layout under <parent>/<name>
// (see NewWorkspace).
type Workspace struct {
	Root   string
	Upper  string
	Work   string
	Merged string
}

// NewWorkspace computes (without creating) the workspace paths for name
// rooted at the given parent directory.
func NewWorkspace(parent, name string) Workspace {
	root := parent + "/" + name
	return Workspace{
		Root:   root,
		Upper:  root + "/upper",
		Work:   root + "/work",
		Merged: root + "/merged",
	}
}

// Build mounts the tmpfs backing store, creates the upper/work/merged
// subdirectories, and mounts the overlay itself. lowerdir must already have
// passed CheckLower. selinuxContext requests the Android
// context="u:object_r:tmpfs:s0" mount option that lets writes through the
// overlay under SELinux enforcement.
func Build(ws Workspace, lowerdir string, selinuxContext bool) error {
	if err := os.MkdirAll(ws.Root, 0o755); err != nil {
		return errors.Wrapf(err, "creating overlay workspace %s", ws.Root)
	}

	tmpfsSize, err := RAMSizeBytes(50)
	if err != nil {
		tmpfsSize = 512 * 1024 * 1024
	}
	sylog.Debugf("volatile overlay tmpfs size: %s", units.BytesSize(float64(tmpfsSize)))
	opts := fmt.Sprintf("size=%d,mode=0755", tmpfsSize)
	if err := unix.Mount("tmpfs", ws.Root, "tmpfs", 0, opts); err != nil {
		return errors.Wrapf(err, "mounting tmpfs at %s", ws.Root)
	}

	for _, d := range []string{ws.Upper, ws.Work, ws.Merged} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", d)
		}
	}

	mountOpts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lowerdir, ws.Upper, ws.Work)
	if selinuxContext {
		mountOpts += `,context="u:object_r:tmpfs:s0"`
	}
	if err := unix.Mount("overlay", ws.Merged, "overlay", 0, mountOpts); err != nil {
		return errors.Wrapf(err, "mounting overlay at %s", ws.Merged)
	}

	return nil
}

// Teardown unmounts any overlay/tmpfs still present at ws (the case where
// stop is issued against a live container from outside: the kernel usually
// already tore the mount namespace down) and removes the workspace
// directory. Safe to call when nothing is mounted.
func Teardown(ws Workspace) error {
	_ = unix.Unmount(ws.Merged, unix.MNT_DETACH)
	_ = unix.Unmount(ws.Root, unix.MNT_DETACH)
	time.Sleep(100 * time.Millisecond)

	if err := os.RemoveAll(ws.Root); err != nil {
		sylog.Warningf("removing overlay workspace %s: %s", ws.Root, err)
	}
	return nil
}

// RAMSizeBytes returns pct percent of total system RAM in bytes, read from
// sysinfo, for use as the tmpfs size= option.
func RAMSizeBytes(pct int) (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, errors.Wrap(err, "reading sysinfo")
	}
	total := int64(info.Totalram) * int64(info.Unit)
	return total * int64(pct) / 100, nil
}
