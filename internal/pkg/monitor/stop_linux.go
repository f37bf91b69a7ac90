package monitor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// sigPowerOff is systemd's poweroff request signal (§4.7 stop step 4).
const sigPowerOff = syscall.Signal(34 + 3) // SIGRTMIN+3 on Linux (SIGRTMIN == 34 in the Go runtime's numbering)

// Stop implements the stop procedure of §4.7: SIGRTMIN+3, escalate to
// SIGTERM at 2s, SIGKILL at 15s, and report an unkillable process if still
// alive 5s after that. skipUnmount writes the .restart sidecar so the
// caller's cleanup step preserves mounts for an immediately following
// start.
func Stop(c *container.Container, skipUnmount bool) error {
	pid, err := ReadPIDFile(c.Name)
	if err != nil {
		return errors.Wrapf(ds.ErrResourceConflict, "no pid file for %s", c.Name)
	}
	if !IsAlive(pid) {
		return errors.Wrapf(ds.ErrResourceConflict, "%s is not running", c.Name)
	}

	if skipUnmount {
		if err := writeSidecar(c, "restart", "1"); err != nil {
			return err
		}
	}

	_ = syscall.Kill(pid, sigPowerOff)

	start := time.Now()
	termSent := false
	for time.Since(start) < 15*time.Second {
		if !IsAlive(pid) {
			return nil
		}
		if !termSent && time.Since(start) >= 2*time.Second {
			_ = syscall.Kill(pid, syscall.SIGTERM)
			termSent = true
		}
		time.Sleep(200 * time.Millisecond)
	}

	if IsAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		killDeadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(killDeadline) {
			if !IsAlive(pid) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
		}
		sylog.Warningf("%s did not terminate after SIGKILL; proceeding with best-effort host cleanup", c.Name)
	}
	return nil
}

// writeSidecar writes <pids_dir>/<name>.<kind> with the given content.
func writeSidecar(c *container.Container, kind, content string) error {
	if err := os.MkdirAll(PidsDir(), 0o755); err != nil {
		return errors.Wrap(err, "creating sidecar directory")
	}
	return os.WriteFile(sidecarPath(c.Name, kind), []byte(content), 0o644)
}

func sidecarPath(name, kind string) string {
	return fmt.Sprintf("%s/%s.%s", PidsDir(), name, kind)
}

// ConsumeRestartMarker reports and removes the .restart sidecar for name,
// the early restart-reuse check of §4.7 start step 1.
func ConsumeRestartMarker(name string) bool {
	path := sidecarPath(name, "restart")
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_ = os.Remove(path)
	return true
}

// WriteMountSidecar records the loop mount point and backing loop device
// used by an image-mode container, so a later stop invocation (a fresh
// process with no in-memory state) can detach the right loop device.
func WriteMountSidecar(name, mountPoint, loopPath string) error {
	if err := os.MkdirAll(PidsDir(), 0o755); err != nil {
		return errors.Wrap(err, "creating sidecar directory")
	}
	content := mountPoint + "\n" + loopPath + "\n"
	return os.WriteFile(sidecarPath(name, "mount"), []byte(content), 0o644)
}

// ReadMountSidecar returns the recorded loop mount point and loop device
// path, if any.
func ReadMountSidecar(name string) (mountPoint, loopPath string, ok bool) {
	data, err := os.ReadFile(sidecarPath(name, "mount"))
	if err != nil {
		return "", "", false
	}
	lines := strings.SplitN(strings.TrimRight(string(data), "\n"), "\n", 2)
	mountPoint = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		loopPath = strings.TrimSpace(lines[1])
	}
	return mountPoint, loopPath, true
}

// RemoveSidecars deletes the PID file and the .mount sidecar for name
// (the .restart sidecar is left in place by callers that need it to
// persist across the following start).
func RemoveSidecars(name string) {
	_ = os.Remove(PidFilePath(name))
	_ = os.Remove(sidecarPath(name, "mount"))
}

// OrphanScan walks /proc for live Droidspaces inits with no PID file and
// adopts them by writing one under an auto-generated unused name (§4.7
// Discovery, Orphan scan).
func OrphanScan(alive func(name string) bool) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, errors.Wrap(err, "reading /proc")
	}

	var adopted []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if !isDroidspacesInit(pid) {
			continue
		}
		if hasExistingPIDFile(pid) {
			continue
		}
		name := fmt.Sprintf("orphan-%d", pid)
		for alive(name) {
			name = fmt.Sprintf("%s-1", name)
		}
		if err := WritePIDFile(name, pid, ""); err != nil {
			return adopted, err
		}
		adopted = append(adopted, pid)
	}
	return adopted, nil
}

func isDroidspacesInit(pid int) bool {
	if !IsAlive(pid) {
		return false
	}
	return isNamespaceInit(pid)
}

// isNamespaceInit reports whether pid is PID 1 of its own PID namespace,
// read from the NSpid line of /proc/<pid>/status.
func isNamespaceInit(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "NSpid:") {
			continue
		}
		fields := strings.Fields(line)
		return len(fields) > 1 && fields[len(fields)-1] == "1"
	}
	return false
}

func hasExistingPIDFile(pid int) bool {
	entries, err := os.ReadDir(PidsDir())
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".pid") {
			continue
		}
		data, err := os.ReadFile(PidsDir() + "/" + e.Name())
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == strconv.Itoa(pid) {
			return true
		}
	}
	return false
}
