// Package monitor is the lifecycle coordinator: it re-execs this binary
// into the monitor and init stages of the fork topology (§4.7), reads the
// init PID back over a sync pipe, manages PID files and sidecars, and
// implements stop's signal-escalation sequence. Grounded on the teacher's
// child-reaping discipline in
// internal/pkg/runtime/engine/apptainer/monitor_linux.go, generalized from
// a single MonitorContainer call into the full fork-twice topology
// required because Go cannot safely fork() a multithreaded process and
// keep running ordinary Go code in the child (§5 Go concurrency mapping).
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/internal/pkg/platform"
)

// InternalBootSubcommand is the hidden cobra subcommand name the monitor
// and init stages re-exec into (§5's Go concurrency mapping).
const InternalBootSubcommand = "internal-boot"

// PidsDir returns the platform-appropriate PID file directory (§4.7).
func PidsDir() string {
	if platform.IsAndroid() {
		return "/data/local/Droidspaces/Pids"
	}
	return "/var/lib/Droidspaces/Pids"
}

// ImageMountParent is the well-known parent of per-container loop-mount
// points (§4.7).
const ImageMountParent = "/mnt/Droidspaces"

// ForkMonitor launches the monitor stage: a re-exec of the running binary
// into "<exe> internal-boot --monitor", passing a sync pipe the monitor
// writes the init PID to once it has forked init. extraFiles are inherited
// by the monitor from FD 4 onward; the monitor stage passes only FDs 0-2 on
// to the init stage.
func ForkMonitor(args []string, extraFiles []*os.File) (monitorPID int, initPID int, err error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, 0, errors.Wrap(err, "resolving own executable path")
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, 0, errors.Wrap(err, "creating sync pipe")
	}
	defer r.Close()

	procAttr := &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: append([]uintptr{0, 1, 2, w.Fd()}, fds(extraFiles)...),
		Sys: &syscall.SysProcAttr{
			Setsid: true,
		},
	}
	argv := append([]string{exe, InternalBootSubcommand, "--monitor"}, args...)

	pid, err := syscall.ForkExec(exe, argv, procAttr)
	w.Close()
	if err != nil {
		return 0, 0, errors.Wrap(err, "forking monitor process")
	}

	initPID, err = readInitPID(r)
	if err != nil {
		return pid, 0, err
	}
	return pid, initPID, nil
}

func fds(files []*os.File) []uintptr {
	out := make([]uintptr, len(files))
	for i, f := range files {
		out[i] = f.Fd()
	}
	return out
}

// readInitPID blocks on the sync pipe until the monitor writes the init
// PID as a decimal string followed by newline, or the pipe closes without
// data (monitor died before forking init).
func readInitPID(r *os.File) (int, error) {
	buf := make([]byte, 32)
	n, err := r.Read(buf)
	if n == 0 {
		if err != nil {
			return 0, errors.Wrap(ds.ErrBootFailure, "monitor exited before reporting init pid")
		}
		return 0, errors.Wrap(ds.ErrBootFailure, "monitor closed sync pipe without reporting init pid")
	}
	pid, perr := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if perr != nil {
		return 0, errors.Wrap(ds.ErrBootFailure, "malformed init pid from monitor")
	}
	return pid, nil
}

// WriteInitPID is called from the monitor stage once it has forked init;
// it writes the decimal PID to the inherited sync pipe FD.
func WriteInitPID(pipeFD uintptr, pid int) error {
	f := os.NewFile(pipeFD, "sync-pipe")
	defer f.Close()
	_, err := f.WriteString(strconv.Itoa(pid) + "\n")
	return err
}

// PidFilePath returns <dir>/<name>.pid.
func PidFilePath(name string) string {
	return filepath.Join(PidsDir(), name+".pid")
}

// WritePIDFile persists pid to the container's PID file (and, if distinct,
// a user-specified path), implementing §4.7 start step 12.
func WritePIDFile(name string, pid int, userPath string) error {
	if err := os.MkdirAll(PidsDir(), 0o755); err != nil {
		return errors.Wrap(err, "creating pid file directory")
	}
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(PidFilePath(name), data, 0o644); err != nil {
		return errors.Wrap(err, "writing pid file")
	}
	if userPath != "" && userPath != PidFilePath(name) {
		if err := os.WriteFile(userPath, data, 0o644); err != nil {
			return errors.Wrap(err, "writing user-specified pid file")
		}
	}
	return nil
}

// ReadPIDFile reads and parses a PID file.
func ReadPIDFile(name string) (int, error) {
	data, err := os.ReadFile(PidFilePath(name))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(ds.ErrResourceConflict, "unparseable pid file for %s", name)
	}
	return pid, nil
}

// IsAlive implements §3's liveness invariant: the PID resolves to a live
// process, /proc/<pid>/root/run/droidspaces exists, and
// /proc/<pid>/cmdline contains "init".
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	marker := fmt.Sprintf("/proc/%d/root/run/droidspaces", pid)
	if _, err := os.Stat(marker); err != nil {
		return false
	}
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || !strings.Contains(string(cmdline), "init") {
		return false
	}
	return true
}

// NameAlive adapts IsAlive to namemgr.AliveFunc: a name is alive iff its
// PID file resolves to a live container.
func NameAlive(name string) bool {
	pid, err := ReadPIDFile(name)
	if err != nil {
		return false
	}
	return IsAlive(pid)
}

// WaitForMarker polls /proc/<pid>/root/run/droidspaces for up to timeout,
// the background-mode boot-completion wait of §4.7 start step 13.
func WaitForMarker(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	marker := fmt.Sprintf("/proc/%d/root/run/droidspaces", pid)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			return nil
		}
		if syscall.Kill(pid, 0) != nil {
			return errors.Wrap(ds.ErrBootFailure, "init process exited before reporting readiness")
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.Wrap(ds.ErrBootFailure, "timed out waiting for boot completion marker")
}

// ScanByUUID probes /proc for a process whose root/run/<uuid> marker
// exists, retrying up to 20 times 200ms apart (§4.7 Discovery by UUID).
func ScanByUUID(uuid string) (int, error) {
	for attempt := 0; attempt < 20; attempt++ {
		if pid, ok := scanOnce(uuid); ok {
			return pid, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return 0, errors.Wrapf(ds.ErrResourceConflict, "no process found with uuid marker %s", uuid)
}

func scanOnce(uuid string) (int, bool) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		marker := fmt.Sprintf("/proc/%d/root/run/%s", pid, uuid)
		if _, err := os.Stat(marker); err == nil {
			return pid, true
		}
	}
	return 0, false
}
