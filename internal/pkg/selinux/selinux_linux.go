// Package selinux wraps the host SELinux controls Droidspaces touches:
// switching the host to permissive mode, setting a process exec label, and
// relabeling the backing image file so vold-style
// Android storage stacks permit the loop-mounted image to be read.
package selinux

import (
	goselinux "github.com/opencontainers/selinux/go-selinux"
)

// Enabled returns whether SELinux is enabled on the host.
func Enabled() bool {
	return goselinux.GetEnabled()
}

// SetExecLabel sets the SELinux exec label for the current process. The
// boot sequence does not call it; no exec label is set before pivot_root.
func SetExecLabel(label string) error {
	return goselinux.SetExecLabel(label)
}

// SetPermissive switches the host to permissive mode, used by the start
// procedure when --selinux-permissive is passed (§4.7 step 3).
func SetPermissive() error {
	return goselinux.SetEnforceMode(goselinux.Permissive)
}

// SetFileLabel relabels path with the given SELinux context, used to apply
// the vold_data_file context to an image file before loop-mounting it on
// Android (§4.7 step 5).
func SetFileLabel(path, label string) error {
	return goselinux.SetFileLabel(path, label)
}

// VoldDataFileLabel is the SELinux context applied to Android rootfs image
// files so vold-adjacent daemons permit the loop device to read them.
const VoldDataFileLabel = "u:object_r:vold_data_file:s0"

// OverlayContext is the context= mount option value applied to the volatile
// overlay's merged mount on Android so SELinux-enforcing guests can write
// through it (§4.4).
const OverlayContext = `u:object_r:tmpfs:s0`
