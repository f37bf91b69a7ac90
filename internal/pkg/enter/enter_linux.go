// Package enter implements the attach-before-setns protocol shared by the
// enter and run entry paths (§4.7, §8's enter/run testable property):
// the calling process's cgroup membership is made to match the target
// container before any setns() call, then every namespace in
// namespaces.AllKinds is entered in the fixed pid/cgroup/uts/ipc/mnt order.
// Grounded on pkg/util/namespaces.OpenAll/EnterAll plus the cgroup join
// step of internal/pkg/cgroups.AttachSelf.
package enter

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/cgroups"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/pkg/util/namespaces"
)

// Into attaches the calling process to targetPID's cgroups, then enters
// every namespace targetPID lives in, in the order the enter/run commands
// require. It must run before any goroutine other than the calling one
// starts, since setns() on mnt affects only the calling OS thread's view
// until an exec replaces the whole process image.
func Into(targetPID int, hostHierarchies []cgroups.Hierarchy) error {
	if err := cgroups.AttachSelf(targetPID, hostHierarchies); err != nil {
		return errors.Wrap(err, "joining target cgroup before setns")
	}

	handles, err := namespaces.OpenAll(targetPID, namespaces.AllKinds)
	if err != nil {
		return errors.Wrapf(ds.ErrResourceConflict, "opening namespaces of pid %d: %s", targetPID, err)
	}
	if err := namespaces.EnterAll(handles, namespaces.AllKinds); err != nil {
		return errors.Wrap(err, "entering target namespaces")
	}
	return nil
}

// Chroot relocates the calling process's filesystem root to targetPID's
// root directory, the final step before exec once Into has joined every
// namespace: setns(CLONE_NEWNS) changes the visible mount table but never
// touches fs_struct->root, so entering the mnt namespace alone still leaves
// the process looking at its own prior root. /proc/<pid>/root is a magic
// symlink the kernel resolves directly against the target task's root
// dentry, bypassing ordinary pathname lookup through the caller's current
// mount namespace, which is what makes chrooting through it work here.
func Chroot(targetPID int) error {
	rootDir := fmt.Sprintf("/proc/%d/root", targetPID)
	if err := os.Chdir(rootDir); err != nil {
		return errors.Wrapf(err, "resolving container root via %s", rootDir)
	}
	if err := unix.Chroot("."); err != nil {
		return errors.Wrap(err, "chroot into container root")
	}
	if err := os.Chdir("/"); err != nil {
		return errors.Wrap(err, "chdir to new root")
	}
	return nil
}
