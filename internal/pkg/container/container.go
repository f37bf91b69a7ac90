// Package container defines the central configuration and runtime-state
// record, grounded on the teacher's instance.FileConfig/engine config
// pattern (internal/pkg/runtime/engine/apptainer/config) but reshaped
// around the droidspaces data model: a single flat record instead of an
// OCI runtime spec, carrying bind mounts, PTYs, and lifecycle sidecars
// instead of registry/image/plugin configuration.
package container

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"

	"github.com/droidspaces/droidspaces/internal/pkg/ds"
)

const (
	// MaxNameLength bounds the name and hostname fields (§3).
	MaxNameLength = 255
	// MaxBinds bounds the bind mount list (§3).
	MaxBinds = 16
)

// Flags is the bitset of boolean container options (§3).
type Flags struct {
	Foreground     bool
	HWAccess       bool
	Volatile       bool
	IPv6Enabled    bool
	AndroidStorage bool
	SELinuxPermissive bool
}

// Bind is one bind-mount request: host src onto container-absolute dest.
type Bind struct {
	Src  string
	Dest string
}

// PTY is the record for one allocated console/TTY (§3): master FD owned by
// the monitor (or the foreground parent), slave bind-mounted into the
// container at SlavePath.
type PTY struct {
	MasterFd  int
	SlaveFd   int
	SlavePath string
}

// Container is the central configuration and runtime-state record.
type Container struct {
	Name          string
	Hostname      string
	RootfsPath    string
	RootfsImgPath string
	IsImgMount    bool
	ImgMountPoint string
	PIDFile       string
	UUID          string
	Flags         Flags
	DNSServers    []string
	Binds         []Bind
	TTYs          []PTY
	ContainerPID  int
}

// RunDir is the well-known parent directory for start's serialized boot
// configs and for the default PIDFile and SidecarPath values derived here.
// The monitor writes the PID files and sidecars it reads back under its own
// PidsDir, and image mount points live under /mnt/Droidspaces.
const RunDir = "/run/droidspaces"

// New constructs a Container with a fresh UUID and derived paths, applying
// defaults for hostname (= name) and pidfile (RunDir/name.pid).
func New(name string) (*Container, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	uuid, err := newUUID()
	if err != nil {
		return nil, errors.Wrap(err, "generating container uuid")
	}
	c := &Container{
		Name:     name,
		Hostname: name,
		PIDFile:  filepath.Join(RunDir, name+".pid"),
		UUID:     uuid,
	}
	return c, nil
}

// newUUID generates a 32 hex character identifier from a CSPRNG, used as
// the /run/<uuid> marker file for PID discovery (§3, §4.7).
func newUUID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func validateName(name string) error {
	if name == "" {
		return errors.Wrap(ds.ErrConfiguration, "container name must not be empty")
	}
	if len(name) > MaxNameLength {
		return errors.Wrapf(ds.ErrConfiguration, "container name exceeds %d characters", MaxNameLength)
	}
	if strings.ContainsAny(name, "/\x00") {
		return errors.Wrap(ds.ErrConfiguration, "container name must not contain '/' or NUL")
	}
	return nil
}

// MountPointFor derives an image's loop-mount point from the container
// name, the mechanism that enforces the at-most-one-mount-per-image
// invariant (§3).
func MountPointFor(name string) string {
	return filepath.Join("/mnt/Droidspaces", name)
}

// SidecarPath returns the path of a named sidecar file (".mount" or
// ".restart") for this container.
func (c *Container) SidecarPath(kind string) string {
	return filepath.Join(RunDir, c.Name+"."+kind)
}

// AddBind validates and appends a bind mount request. Destination must be
// absolute and must not contain ".." traversal components (§3 invariant).
func (c *Container) AddBind(src, dest string) error {
	if len(c.Binds) >= MaxBinds {
		return errors.Wrapf(ds.ErrConfiguration, "bind mount list exceeds %d entries", MaxBinds)
	}
	if !filepath.IsAbs(dest) {
		return errors.Wrapf(ds.ErrConfiguration, "bind destination %q must be absolute", dest)
	}
	clean, err := securejoin.SecureJoin("/", dest)
	if err != nil {
		return errors.Wrapf(ds.ErrConfiguration, "bind destination %q is not resolvable: %v", dest, err)
	}
	if clean != dest && clean != filepath.Clean(dest) {
		return errors.Wrapf(ds.ErrConfiguration, "bind destination %q escapes via symlink or traversal", dest)
	}
	for _, part := range strings.Split(dest, string(filepath.Separator)) {
		if part == ".." {
			return errors.Wrapf(ds.ErrConfiguration, "bind destination %q contains '..'", dest)
		}
	}
	if _, err := os.Stat(src); err != nil {
		return errors.Wrapf(ds.ErrConfiguration, "bind source %q: %v", src, err)
	}
	c.Binds = append(c.Binds, Bind{Src: src, Dest: dest})
	return nil
}

// Validate checks invariants that span multiple fields, called once CLI
// parsing has populated the record and before the boot sequence starts.
func (c *Container) Validate() error {
	if err := validateName(c.Name); err != nil {
		return err
	}
	if len(c.Hostname) > MaxNameLength {
		return errors.Wrapf(ds.ErrConfiguration, "hostname exceeds %d characters", MaxNameLength)
	}
	if c.RootfsPath == "" && c.RootfsImgPath == "" {
		return errors.Wrap(ds.ErrConfiguration, "either rootfs path or rootfs image path is required")
	}
	if c.RootfsPath != "" && c.RootfsImgPath != "" {
		return errors.Wrap(ds.ErrConfiguration, "rootfs path and rootfs image path are mutually exclusive")
	}
	if len(c.Binds) > MaxBinds {
		return errors.Wrapf(ds.ErrConfiguration, "bind mount list exceeds %d entries", MaxBinds)
	}
	for _, dns := range c.DNSServers {
		if strings.TrimSpace(dns) == "" {
			return errors.Wrap(ds.ErrConfiguration, "dns server entry must not be empty")
		}
	}
	return nil
}

// DeriveNameFromOSRelease reads ID and VERSION_ID from an os-release file
// (rootfs/etc/os-release) and combines them into a default container name,
// used when the caller does not supply -n/--name (§3).
func DeriveNameFromOSRelease(rootfs string) (string, error) {
	data, err := os.ReadFile(filepath.Join(rootfs, "etc", "os-release"))
	if err != nil {
		return "", err
	}
	var id, version string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ID="):
			id = unquote(strings.TrimPrefix(line, "ID="))
		case strings.HasPrefix(line, "VERSION_ID="):
			version = unquote(strings.TrimPrefix(line, "VERSION_ID="))
		}
	}
	if id == "" {
		return "", fmt.Errorf("os-release missing ID field")
	}
	if version == "" {
		return id, nil
	}
	return id + "-" + version, nil
}

func unquote(s string) string {
	return strings.Trim(s, `"'`)
}
