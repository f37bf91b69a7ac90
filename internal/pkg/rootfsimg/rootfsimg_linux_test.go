package rootfsimg

import (
	"strings"
	"testing"
)

func TestMountPointForContainer(t *testing.T) {
	if got := MountPointForContainer("alpine"); !strings.Contains(got, "alpine") {
		t.Errorf("MountPointForContainer() = %q, want containing alpine", got)
	}
}

func TestFsckMissingBinaryIsNonFatal(t *testing.T) {
	Fsck("/nonexistent/image.img")
}
