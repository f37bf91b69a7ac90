// Package platform probes the host: Android vs. desktop Linux, kernel
// version, and namespace availability, grounded on the teacher's kernel
// feature probing in internal/pkg/util/fs/proc and internal/app/apptainer's
// pre-flight checks, generalized here into the kernel-support gate used by
// container start (§4.1 step 1, §6 check command).
package platform

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// androidMarkers are files only present on Android-derived kernels/userspaces.
var androidMarkers = []string{
	"/system/build.prop",
	"/system/bin/getprop",
	"/init.rc",
}

// IsAndroid reports whether the host looks like an Android kernel/userspace,
// used to select the PID file directory, the Android network groups, and the
// iptables-based network policy (§4.6). The /dev population mode is chosen
// by the --hw-access flag, not by this probe.
func IsAndroid() bool {
	if os.Getenv("ANDROID_ROOT") != "" {
		return true
	}
	for _, m := range androidMarkers {
		if _, err := os.Stat(m); err == nil {
			return true
		}
	}
	return false
}

// KernelVersion parses the running kernel's release string (as reported by
// uname) into major/minor components, e.g. "4.9.337-perf+" -> (4, 9).
func KernelVersion() (major, minor int, err error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return 0, 0, fmt.Errorf("uname: %w", err)
	}
	release := charsToString(uts.Release[:])
	return parseKernelVersion(release)
}

func parseKernelVersion(release string) (major, minor int, err error) {
	fields := strings.SplitN(release, "-", 2)
	parts := strings.Split(fields[0], ".")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unrecognized kernel release %q", release)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unrecognized kernel release %q: %w", release, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("unrecognized kernel release %q: %w", release, err)
	}
	return major, minor, nil
}

func charsToString(in []byte) string {
	var b strings.Builder
	for _, c := range in {
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}

// HasNamespace probes /proc/self/ns/<kind> for namespace support, the
// runtime analogue of the kernel version floor: some kernels report a
// version above the minimum but were built without CONFIG_*_NS.
func HasNamespace(kind string) bool {
	_, err := os.Lstat("/proc/self/ns/" + kind)
	return err == nil
}

// MinimumKernel is the lowest (major, minor) pair droidspaces will attempt
// to boot on; below this, namespace/overlay support is assumed absent.
const (
	MinimumKernelMajor = 3
	MinimumKernelMinor = 18
)

// MeetsMinimum reports whether major.minor is at or above MinimumKernel.
func MeetsMinimum(major, minor int) bool {
	if major != MinimumKernelMajor {
		return major > MinimumKernelMajor
	}
	return minor >= MinimumKernelMinor
}
