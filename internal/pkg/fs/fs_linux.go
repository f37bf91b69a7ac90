// Package fs provides the low-level mount, bind, and path-safety primitives
// shared by the boot sequence, cgroup plane, and rootfs image driver.
// Grounded on the teacher's RPC mount server
// (internal/pkg/runtime/engine/apptainer/rpc/server/server_linux.go),
// collapsed here into direct in-process calls since droidspaces runs the
// boot sequence as root in the same process rather than through a
// privilege-separated RPC server.
package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mount wraps unix.Mount with contextual error information.
func Mount(source, target, fstype string, flags uintptr, data string) error {
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return errors.Wrapf(err, "mounting %s on %s (type %s)", source, target, fstype)
	}
	return nil
}

// Unmount detaches target, tolerating ENOENT/EINVAL (not a mountpoint).
func Unmount(target string, flags int) error {
	if err := unix.Unmount(target, flags); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOENT) {
			return nil
		}
		return errors.Wrapf(err, "unmounting %s", target)
	}
	return nil
}

// BindMount bind-mounts source onto target, optionally recursive.
func BindMount(source, target string, recursive bool) error {
	flags := uintptr(unix.MS_BIND)
	if recursive {
		flags |= unix.MS_REC
	}
	return Mount(source, target, "", flags, "")
}

// MakePrivateRecursive marks the entire mount tree as MS_PRIVATE|MS_REC, so
// mount changes made inside the new mount namespace never propagate back to
// the host (boot sequence step 1).
func MakePrivateRecursive(target string) error {
	return Mount("", target, "", unix.MS_PRIVATE|unix.MS_REC, "")
}

// RemountReadOnly remounts an existing mountpoint read-only in place.
func RemountReadOnly(target string) error {
	return Mount("", target, "", unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_BIND, "")
}

// MkdirAll is a thin wrapper kept for symmetry with the rest of the
// package's naming; it exists so callers import one package for every
// filesystem primitive instead of mixing in os directly.
func MkdirAll(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return errors.Wrapf(err, "creating directory %s", path)
	}
	return nil
}

// WriteFileAtomic writes data to path by writing to a temp file in the same
// directory and renaming over the destination, avoiding partial reads of
// discovery marker files such as /run/droidspaces.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmpPath)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "chmod %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpPath, path)
	}
	return nil
}

// MountInfoEntry is one parsed line of /proc/<pid>/mountinfo.
type MountInfoEntry struct {
	MountPoint    string
	FSType        string
	MountSource   string
	SuperOptions  string
	VFSOptions    string
}

// MountInfo parses /proc/<pid>/mountinfo (pid 0 means "self").
func MountInfo(pid int) ([]MountInfoEntry, error) {
	path := fmt.Sprintf("/proc/%d/mountinfo", pid)
	if pid == 0 {
		path = "/proc/self/mountinfo"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var entries []MountInfoEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry, ok := parseMountInfoLine(scanner.Text())
		if ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return entries, nil
}

// parseMountInfoLine parses one mountinfo line per proc(5): the fields up
// to a literal "-" separator are positional, after it come fstype, mount
// source, and super options.
func parseMountInfoLine(line string) (MountInfoEntry, bool) {
	fields := strings.Fields(line)
	sep := -1
	for i, f := range fields {
		if f == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || sep+3 >= len(fields) || len(fields) < 5 {
		return MountInfoEntry{}, false
	}
	return MountInfoEntry{
		MountPoint:   fields[4],
		FSType:       fields[sep+1],
		MountSource:  fields[sep+2],
		SuperOptions: fields[sep+3],
		VFSOptions:   fields[5],
	}, true
}

// IsMountPoint reports whether path appears as a mount point in the
// current process's mountinfo.
func IsMountPoint(path string) (bool, error) {
	entries, err := MountInfo(0)
	if err != nil {
		return false, err
	}
	clean := filepath.Clean(path)
	for _, e := range entries {
		if e.MountPoint == clean {
			return true, nil
		}
	}
	return false, nil
}

// SecureJoinRoot resolves dest inside root the way the boot sequence must
// resolve bind-mount destinations and device nodes: symlinks are resolved
// relative to root rather than the host filesystem, so a malicious symlink
// inside the rootfs cannot escape it.
func SecureJoinRoot(root, dest string) (string, error) {
	joined, err := securejoin.SecureJoin(root, dest)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s under %s", dest, root)
	}
	return joined, nil
}

// IsDescendant reports whether candidate is root or a descendant of root
// after Clean, used to verify a post-mount bind destination has not been
// retargeted outside the rootfs (§4.1 custom bind mount postcondition).
func IsDescendant(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}
