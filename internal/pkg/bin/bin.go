// Package bin locates the external helper binaries droidspaces shells out
// to: e2fsck for image repair, usermod/getprop for Android account
// plumbing, and iptables for network policy. Grounded on the teacher's
// buildcfg-driven binary resolution in internal/pkg/buildcfg, replaced
// here with PATH lookup plus a compiled-in fallback list since droidspaces
// ships as a single static binary with no companion build configuration.
package bin

import (
	"os/exec"

	"github.com/pkg/errors"

	"github.com/droidspaces/droidspaces/internal/pkg/ds"
)

// fallbackPaths lists well-known install locations tried when the name is
// not found on PATH, keyed by binary name.
var fallbackPaths = map[string][]string{
	"e2fsck":  {"/sbin/e2fsck", "/usr/sbin/e2fsck"},
	"usermod": {"/usr/sbin/usermod", "/sbin/usermod"},
	"getprop": {"/system/bin/getprop"},
	"iptables": {"/usr/sbin/iptables", "/sbin/iptables"},
}

// Find locates name on PATH, falling back to the compiled-in candidate
// paths for that name. It returns ds.ErrConfiguration wrapped with the
// searched locations if nothing exists.
func Find(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	for _, candidate := range fallbackPaths[name] {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", errors.Wrapf(ds.ErrConfiguration, "%s not found on PATH or in known locations", name)
}
