// Package rootfsimg drives the loop-mounted rootfs image path of the
// start procedure: best-effort filesystem check, loop attach with retry,
// mount under a container-name-scoped slot, and unmount-with-detach.
// Grounded on the teacher's pkg/util/loop.Device together with the image
// mount-point handling of internal/pkg/util/fs/squashfs.go, generalized
// from a read-only SquashFS session mount to a read-write ext4 image
// mount (§4.7 start step 5, §4.7 stop step 7).
package rootfsimg

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/bin"
	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/fs"
	"github.com/droidspaces/droidspaces/internal/pkg/platform"
	"github.com/droidspaces/droidspaces/internal/pkg/selinux"
	"github.com/droidspaces/droidspaces/pkg/sylog"
	"github.com/droidspaces/droidspaces/pkg/util/loop"
)

// maxMountRetries and mountSettleDelay implement the kernel 4.14
// asynchronous-loop-cleanup workaround named in §4.7 start step 5: a
// detach from a previous container's stop may not be visible to the next
// attach attempt for a short window.
const (
	maxMountRetries = 3
	mountSettleDelay = time.Second
)

// Fsck best-effort repairs the image file with e2fsck -f -y. Failures are
// logged, not fatal: a corrupt-but-mountable image should still boot.
func Fsck(imagePath string) {
	e2fsck, err := bin.Find("e2fsck")
	if err != nil {
		sylog.Debugf("e2fsck not available, skipping filesystem check: %s", err)
		return
	}
	cmd := exec.Command(e2fsck, "-f", "-y", imagePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		sylog.Warningf("e2fsck reported issues on %s: %s\n%s", imagePath, err, out)
	}
}

// Relabel applies the vold_data_file SELinux context to the image file on
// Android, required for the image to be readable under enforcing mode
// (§4.7 start step 5).
func Relabel(imagePath string) {
	if !platform.IsAndroid() || !selinux.Enabled() {
		return
	}
	if err := selinux.SetFileLabel(imagePath, selinux.VoldDataFileLabel); err != nil {
		sylog.Warningf("relabeling %s: %s", imagePath, err)
	}
}

// Mount attaches imagePath to a loop device and mounts it read-write at
// mountPoint (derived by the caller from container.MountPointFor), retrying
// up to maxMountRetries times with a sync + settle delay between attempts.
func Mount(imagePath, mountPoint string) (loopPath string, err error) {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating mount point %s", mountPoint)
	}

	var lastErr error
	for attempt := 1; attempt <= maxMountRetries; attempt++ {
		loopPath, lastErr = attach(imagePath)
		if lastErr == nil {
			break
		}
		sylog.Debugf("loop attach attempt %d/%d failed: %s", attempt, maxMountRetries, lastErr)
		syscall.Sync()
		time.Sleep(mountSettleDelay)
	}
	if lastErr != nil {
		return "", errors.Wrapf(lastErr, "attaching %s to a loop device after %d attempts", imagePath, maxMountRetries)
	}

	if err := fs.Mount(loopPath, mountPoint, "ext4", 0, ""); err != nil {
		_ = detach(loopPath)
		return "", err
	}
	return loopPath, nil
}

func attach(imagePath string) (string, error) {
	dev := &loop.Device{MaxLoopDevices: loop.GetMaxLoopDevices(), Info: &loop.Info64{}}
	var number int
	if err := dev.AttachFromPath(imagePath, os.O_RDWR, &number); err != nil {
		return "", err
	}
	return fmt.Sprintf("/dev/loop%d", number), nil
}

func detach(loopPath string) error {
	f, err := os.Open(loopPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), loop.CmdClrFd, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Unmount lazily unmounts mountPoint and detaches its backing loop device,
// the "-d -l" semantics of §4.7 stop step 7. skipUnmount preserves both for
// an immediately following restart.
func Unmount(mountPoint, loopPath string, skipUnmount bool) error {
	if skipUnmount {
		return nil
	}
	if err := fs.Unmount(mountPoint, unix.MNT_DETACH); err != nil {
		sylog.Warningf("unmounting %s: %s", mountPoint, err)
	}
	if loopPath != "" {
		if err := detach(loopPath); err != nil {
			sylog.Warningf("detaching %s: %s", loopPath, err)
		}
	}
	return nil
}

// MountPointForContainer is a thin re-export of container.MountPointFor
// kept in this package so callers only need to import rootfsimg for the
// whole image-mount lifecycle.
func MountPointForContainer(name string) string {
	return container.MountPointFor(name)
}
