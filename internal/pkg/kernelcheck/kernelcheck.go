// Package kernelcheck aggregates the boolean host-capability predicates
// consulted by the start procedure's preflight and by the `check`
// CLI subcommand (§6), grounded on the teacher's isSuid/HasNamespace style
// boolean probes scattered across internal/pkg/util/fs and pkg/util/namespaces,
// collected here into one report.
package kernelcheck

import (
	"github.com/droidspaces/droidspaces/internal/pkg/overlay"
	"github.com/droidspaces/droidspaces/internal/pkg/platform"
	"github.com/droidspaces/droidspaces/pkg/util/namespaces"
)

// Report is the outcome of probing the host for everything a container
// boot depends on.
type Report struct {
	KernelMajor      int
	KernelMinor      int
	MeetsMinimum     bool
	IsAndroid        bool
	HasMountNS       bool
	HasUTSNS         bool
	HasIPCNS         bool
	HasPIDNS         bool
	HasCgroupNS      bool
	HasOverlay       bool
	OverlayErr       error
}

// Probe runs every predicate once and returns the aggregate report, the
// body of the `check` subcommand and the gate at the top of start (§4.1
// step 1's implicit precondition, §6).
func Probe() Report {
	r := Report{IsAndroid: platform.IsAndroid()}

	major, minor, err := platform.KernelVersion()
	if err == nil {
		r.KernelMajor, r.KernelMinor = major, minor
		r.MeetsMinimum = platform.MeetsMinimum(major, minor)
	}

	r.HasMountNS = platform.HasNamespace("mnt")
	r.HasUTSNS = platform.HasNamespace("uts")
	r.HasIPCNS = platform.HasNamespace("ipc")
	r.HasPIDNS = platform.HasNamespace("pid")
	r.HasCgroupNS = platform.HasNamespace("cgroup")

	ok, err := overlay.Available()
	r.HasOverlay = ok
	r.OverlayErr = err

	return r
}

// Sufficient reports whether the host meets the floor required to attempt
// a container boot at all: the four mandatory namespaces (§2 Non-goals
// excludes network/user namespaces, so they are not checked here) and the
// minimum kernel version.
func (r Report) Sufficient() bool {
	return r.MeetsMinimum && r.HasMountNS && r.HasUTSNS && r.HasIPCNS && r.HasPIDNS
}

// AvailableNamespaceKinds lists every namespace kind droidspaces may enter,
// in the same order as namespaces.AllKinds (which enter.Into uses directly).
var AvailableNamespaceKinds = namespaces.AllKinds
