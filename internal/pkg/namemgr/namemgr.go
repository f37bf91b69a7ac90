// Package namemgr allocates unique container names, appending -1, -2, …
// on collision with a currently running container (§3: names are unique
// across running containers only, a crashed container's name is
// reclaimed). Grounded on the teacher's sessionName disambiguation in
// internal/app/apptainer/run.go, generalized from a single retry to a
// bounded loop against an arbitrary liveness check.
package namemgr

import (
	"fmt"

	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/pkg/errors"
)

// MaxRetries bounds the -N suffix search before giving up.
const MaxRetries = 64

// AliveFunc reports whether a container name currently refers to a live
// container, per the alive invariant in §3 (the caller wires this to
// monitor.NameAlive).
type AliveFunc func(name string) bool

// Allocate returns the first of name, name-1, name-2, … that AliveFunc
// reports as not alive. It does not reserve the name: the caller must
// create the PID file promptly to close the race.
func Allocate(name string, alive AliveFunc) (string, error) {
	if !alive(name) {
		return name, nil
	}
	for i := 1; i <= MaxRetries; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !alive(candidate) {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(ds.ErrResourceConflict, "no free name derived from %q after %d attempts", name, MaxRetries)
}
