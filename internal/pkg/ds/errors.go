// Package ds holds the error taxonomy and exit-code mapping shared by every
// Droidspaces operation package, grounded on the teacher's use of sentinel
// errors checked with errors.Is against github.com/pkg/errors-wrapped causes
// throughout internal/pkg/runtime/engine/apptainer.
package ds

import "github.com/pkg/errors"

// Sentinel errors, one per class in the error handling design (§7). Callers
// wrap these with errors.Wrap/Wrapf to attach context; the CLI layer
// recovers the class with errors.Is to pick an exit code.
var (
	// ErrConfiguration covers mutually exclusive flags, unknown commands,
	// missing required flags, and bind-mount path-traversal/symlink
	// rejections. Exit code 1.
	ErrConfiguration = errors.New("configuration error")

	// ErrKernelUnsupported covers a kernel version below the minimum, a
	// required namespace missing from /proc/self/ns, or a missing cgroup
	// controller. Exit code 1.
	ErrKernelUnsupported = errors.New("kernel unsupported")

	// ErrResourceConflict covers name collisions after auto-suffix retries
	// are exhausted, an unparseable PID file, or an image already mounted.
	// Exit code 1.
	ErrResourceConflict = errors.New("resource conflict")

	// ErrTransient covers a loop mount failing on the first attempt
	// (retried) and device relabel failures (warned, then continued).
	ErrTransient = errors.New("transient error, please retry")

	// ErrBootFailure covers a missing or non-executable /sbin/init, a
	// rejected volatile preflight, or a critical mount failure during the
	// boot sequence. Exit code 1.
	ErrBootFailure = errors.New("boot failure")
)

// ExitCode maps an error produced by this module to the process exit code
// prescribed by §6: 0 on success, 1 for user error / missing container /
// kernel-unsupported, 127 for an exec failure forwarded from a run target.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrExecFailure) {
		return 127
	}
	return 1
}

// ErrExecFailure marks a run target's execve failure; ExitCode maps it to
// exit status 127 (§6).
var ErrExecFailure = errors.New("exec failure")
