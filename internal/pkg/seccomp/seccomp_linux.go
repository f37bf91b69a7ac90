// Package seccomp builds and loads the adaptive seccomp shield: a BPF filter
// that neutralizes specific syscalls known to deadlock legacy Android
// kernels when exercised by a modern systemd guest, while staying a no-op on
// kernels where the underlying VFS races do not exist.
//
// Grounded on the teacher's internal/pkg/security/seccomp, but built
// directly against libseccomp-golang instead of translating an OCI
// specs.LinuxSeccomp document: the shield here implements one fixed policy
// (§4.5), not an arbitrary user-supplied profile.
package seccomp

import (
	"fmt"
	"syscall"

	lseccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// NamespaceMask is the set of clone/unshare flags that the shield neutralizes
// when the guest init is systemd: CLONE_NEWNS|NEWUTS|NEWIPC|NEWUSER|NEWPID|
// NEWNET|NEWCGROUP (0x7E020000).
const NamespaceMask = unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC |
	unix.CLONE_NEWUSER | unix.CLONE_NEWPID | unix.CLONE_NEWNET | unix.CLONE_NEWCGROUP

var keyringSyscalls = []string{"keyctl", "add_key", "request_key"}

// shouldActivate reports whether the shield applies for the given host
// kernel major version: only kernels below 5.
func shouldActivate(kernelMajor int) bool {
	return kernelMajor < 5
}

// Install loads the adaptive shield for the current process if the host
// kernel major version warrants it. guestIsSystemd controls whether the
// namespace-creation branch (unshare/clone masked by NamespaceMask) is
// included; non-systemd guests (OpenRC, runit) need unrestricted unshare for
// legitimate nested containerization.
//
// Install is a soft-fail operation per §7: a failure to load the filter is
// logged as a warning and does not abort the boot sequence, since a legacy
// kernel refusing seccomp entirely is itself evidence the shield isn't
// needed (or can't help).
func Install(kernelMajor int, guestIsSystemd bool) {
	if !shouldActivate(kernelMajor) {
		sylog.Debugf("seccomp shield: kernel %d >= 5, skipping", kernelMajor)
		return
	}

	if err := install(guestIsSystemd); err != nil {
		sylog.Warningf("seccomp shield: %s", err)
	}
}

func install(guestIsSystemd bool) error {
	filter, err := lseccomp.NewFilter(lseccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("creating seccomp filter: %w", err)
	}
	defer filter.Release()

	if err := filter.SetNoNewPrivsBit(false); err != nil {
		return fmt.Errorf("setting no_new_privs: %w", err)
	}

	errnoAction := lseccomp.ActErrno.SetReturnCode(int16(syscall.ENOSYS))
	for _, name := range keyringSyscalls {
		sc, err := lseccomp.GetSyscallFromName(name)
		if err != nil {
			// Not every arch/libseccomp version knows every name;
			// skip rather than fail the whole filter.
			continue
		}
		if err := filter.AddRule(sc, errnoAction); err != nil {
			return fmt.Errorf("adding rule for %s: %w", name, err)
		}
	}

	if guestIsSystemd {
		epermAction := lseccomp.ActErrno.SetReturnCode(int16(syscall.EPERM))
		for _, name := range []string{"unshare", "clone"} {
			sc, err := lseccomp.GetSyscallFromName(name)
			if err != nil {
				continue
			}
			// One rule per flag bit, so a call carrying any namespace flag
			// is refused, not only one carrying all of them.
			for bit := uint64(1); bit <= NamespaceMask; bit <<= 1 {
				if NamespaceMask&bit == 0 {
					continue
				}
				cond, err := lseccomp.MakeCondition(0, lseccomp.CompareMaskedEqual, bit, bit)
				if err != nil {
					return fmt.Errorf("building condition for %s: %w", name, err)
				}
				if err := filter.AddRuleConditional(sc, epermAction, []lseccomp.ScmpCondition{cond}); err != nil {
					return fmt.Errorf("adding conditional rule for %s: %w", name, err)
				}
			}
		}
	}

	if err := filter.Load(); err != nil {
		return fmt.Errorf("loading seccomp filter: %w", err)
	}

	return nil
}
