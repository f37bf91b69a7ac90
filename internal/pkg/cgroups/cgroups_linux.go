// Package cgroups reproduces the host's cgroup hierarchy topology inside a
// container's view of /sys/fs/cgroup and implements the attach-before-setns
// protocol used by enter/run. Grounded on the teacher's (now-retired)
// internal/pkg/cgroups manager for the general shape of hierarchy
// discovery from mountinfo, rewritten around droidspaces' own fixed
// container-side reconstruction (§4.3) rather than an OCI resource-limits
// manager.
package cgroups

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/fs"
	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// Hierarchy is one discovered host cgroup mount (§4.3 Host topology
// discovery).
type Hierarchy struct {
	MountPoint  string
	Version     int // 1 or 2
	Controllers []string // empty for v2 and for unnamed/empty v1 mounts
}

// androidControllerRemap maps Android's cgroup controller naming onto the
// canonical kernel names (§4.3 step 2).
var androidControllerRemap = map[string]string{
	"memcg": "memory",
	"acct":  "cpuacct",
}

// managedPrefix marks droidspaces-managed mount points, excluded from host
// topology discovery so a re-entrant scan does not pick up its own
// per-container cgroup subtree.
const managedPrefix = "/sys/fs/cgroup/droidspaces"

// DiscoverHost parses /proc/self/mountinfo for cgroup v1/v2 mounts.
func DiscoverHost() ([]Hierarchy, error) {
	entries, err := fs.MountInfo(0)
	if err != nil {
		return nil, err
	}
	var hierarchies []Hierarchy
	for _, e := range entries {
		if strings.HasPrefix(e.MountPoint, managedPrefix) {
			continue
		}
		switch e.FSType {
		case "cgroup":
			hierarchies = append(hierarchies, Hierarchy{
				MountPoint:  e.MountPoint,
				Version:     1,
				Controllers: parseControllers(e.SuperOptions),
			})
		case "cgroup2":
			hierarchies = append(hierarchies, Hierarchy{
				MountPoint: e.MountPoint,
				Version:    2,
			})
		}
	}
	return hierarchies, nil
}

// parseControllers strips the leading rw,/ro, noise from the super options
// field and returns the controller name list.
func parseControllers(superOptions string) []string {
	var controllers []string
	for _, opt := range strings.Split(superOptions, ",") {
		switch opt {
		case "rw", "ro", "":
			continue
		}
		controllers = append(controllers, opt)
	}
	return controllers
}

// NamespaceSupported reports whether the cgroup namespace kind is
// available (Linux 4.6+) by checking /proc/self/ns/cgroup (§4.3 Namespace
// support probe).
func NamespaceSupported() bool {
	_, err := os.Lstat("/proc/self/ns/cgroup")
	return err == nil
}

// NamespaceActive reports whether a cgroup namespace is currently active,
// signaled by /proc/self/cgroup reporting path "/" for every hierarchy.
func NamespaceActive() (bool, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return false, errors.Wrap(err, "opening /proc/self/cgroup")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		path, ok := selfCgroupPath(scanner.Text())
		if !ok {
			continue
		}
		if path != "/" {
			return false, nil
		}
	}
	return true, scanner.Err()
}

// selfCgroupPath extracts the third colon-separated field of a
// /proc/<pid>/cgroup line: hierarchy-ID:controller-list:path.
func selfCgroupPath(line string) (string, bool) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	return parts[2], true
}

// leaf returns the subdirectory name of mountPoint under /sys/fs/cgroup on
// the host, or "" if mounted directly at /sys/fs/cgroup.
func leaf(mountPoint string) string {
	const base = "/sys/fs/cgroup"
	if mountPoint == base {
		return ""
	}
	return strings.TrimPrefix(mountPoint, base+"/")
}

func remapLeaf(l string) string {
	if mapped, ok := androidControllerRemap[l]; ok {
		return mapped
	}
	return l
}

// SetupContainerSide reconstructs the discovered host hierarchies under
// containerCgroupRoot (the container-side "sys/fs/cgroup" path, called
// from the boot sequence before pivot_root), following §4.3's
// modern/legacy branch.
func SetupContainerSide(containerCgroupRoot string, hierarchies []Hierarchy, nsSupported bool) error {
	if err := os.MkdirAll(containerCgroupRoot, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", containerCgroupRoot)
	}
	if err := fs.Mount("tmpfs", containerCgroupRoot, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "mode=0755,size=16m"); err != nil {
		return err
	}

	pureV2 := len(hierarchies) == 1 && hierarchies[0].Version == 2 && hierarchies[0].MountPoint == "/sys/fs/cgroup"

	for _, h := range hierarchies {
		l := remapLeaf(leaf(h.MountPoint))
		target := containerCgroupRoot
		if l != "" {
			target = filepath.Join(containerCgroupRoot, l)
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating %s", target)
			}
		}

		if nsSupported {
			if err := setupModern(target, h); err != nil {
				return err
			}
		} else {
			if err := setupLegacy(target, h); err != nil {
				return err
			}
		}

		if h.Version == 1 && len(h.Controllers) > 1 {
			if err := symlinkComounted(containerCgroupRoot, l, h.Controllers); err != nil {
				return err
			}
		}
	}

	if !pureV2 {
		if err := fs.RemountReadOnly(containerCgroupRoot); err != nil {
			sylog.Warningf("remounting %s read-only: %s", containerCgroupRoot, err)
		}
	}
	return nil
}

// setupModern mounts a fresh cgroup/cgroup2 filesystem at target (cgroup
// namespace active branch of §4.3 step 2).
func setupModern(target string, h Hierarchy) error {
	if h.Version == 2 {
		return fs.Mount("cgroup2", target, "cgroup2", 0, "")
	}
	opts := strings.Join(h.Controllers, ",")
	if opts == "" {
		opts = remapLeaf(leaf(h.MountPoint))
	}
	return fs.Mount("cgroup", target, "cgroup", 0, opts)
}

// setupLegacy bind-mounts this process's own subtree of the host hierarchy
// onto target, used when no cgroup namespace is available.
func setupLegacy(target string, h Hierarchy) error {
	ownPath, err := ownHierarchyPath(h)
	if err != nil {
		return err
	}
	hostPath := filepath.Join(h.MountPoint, ownPath)
	return fs.Mount(hostPath, target, "", unix.MS_BIND|unix.MS_REC|unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "")
}

// ownHierarchyPath finds this process's own path within a host hierarchy
// by reading /proc/self/cgroup and matching on controller set (v1) or
// unconditionally (v2).
func ownHierarchyPath(h Hierarchy) (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", errors.Wrap(err, "opening /proc/self/cgroup")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		controllers := strings.Split(parts[1], ",")
		if h.Version == 2 && parts[1] == "" {
			return parts[2], nil
		}
		if matchesControllers(controllers, h.Controllers) {
			return parts[2], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "reading /proc/self/cgroup")
	}
	return "", errors.Errorf("no /proc/self/cgroup entry for hierarchy at %s", h.MountPoint)
}

func matchesControllers(have, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}

// symlinkComounted creates symlinks inside containerCgroupRoot for every
// secondary controller name of a v1 comounted hierarchy (e.g.
// cpu,cpuacct), pointing to the primary leaf (§4.3 step 3).
func symlinkComounted(containerCgroupRoot, primaryLeaf string, controllers []string) error {
	target := filepath.Join(containerCgroupRoot, primaryLeaf)
	for i, c := range controllers {
		if i == 0 {
			continue
		}
		link := filepath.Join(containerCgroupRoot, c)
		_ = os.Remove(link)
		if err := os.Symlink(target, link); err != nil {
			return errors.Wrapf(err, "symlinking comounted controller %s", c)
		}
	}
	return nil
}

// targetCgroupEntry is one parsed line of /proc/<pid>/cgroup.
type targetCgroupEntry struct {
	controllers []string
	path        string
}

// AttachSelf writes the calling process's PID into the target PID's
// cgroup at each discovered host hierarchy, the attach-before-setns
// protocol required before entering an existing container's namespaces
// (§4.3).
func AttachSelf(targetPID int, hierarchies []Hierarchy) error {
	entries, err := targetCgroupEntries(targetPID)
	if err != nil {
		return err
	}
	self := os.Getpid()
	for _, h := range hierarchies {
		rel, ok := matchEntry(entries, h)
		if !ok {
			continue
		}
		procsFile := "tasks"
		if h.Version == 2 {
			procsFile = "cgroup.procs"
		}
		path := filepath.Join(h.MountPoint, rel, procsFile)
		if err := os.WriteFile(path, []byte(strconv.Itoa(self)), 0o200); err != nil {
			return errors.Wrapf(err, "attaching to cgroup %s", path)
		}
	}
	return nil
}

// matchEntry finds the /proc/<pid>/cgroup entry corresponding to
// hierarchy h, matching on controller set for v1 and on the single
// controller-less entry for v2.
func matchEntry(entries []targetCgroupEntry, h Hierarchy) (string, bool) {
	for _, e := range entries {
		if h.Version == 2 && len(e.controllers) == 1 && e.controllers[0] == "" {
			return e.path, true
		}
		if h.Version == 1 && matchesControllers(e.controllers, h.Controllers) {
			return e.path, true
		}
	}
	return "", false
}

// targetCgroupEntries reads and parses /proc/<targetPID>/cgroup.
func targetCgroupEntries(targetPID int) ([]targetCgroupEntry, error) {
	path := fmt.Sprintf("/proc/%d/cgroup", targetPID)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var entries []targetCgroupEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, targetCgroupEntry{
			controllers: strings.Split(parts[1], ","),
			path:        parts[2],
		})
	}
	return entries, scanner.Err()
}
