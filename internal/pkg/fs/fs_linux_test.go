package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMountInfoLine(t *testing.T) {
	line := `36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue`
	entry, ok := parseMountInfoLine(line)
	if !ok {
		t.Fatalf("parseMountInfoLine() failed to parse valid line")
	}
	if entry.MountPoint != "/mnt2" {
		t.Errorf("MountPoint = %q, want /mnt2", entry.MountPoint)
	}
	if entry.FSType != "ext3" {
		t.Errorf("FSType = %q, want ext3", entry.FSType)
	}
	if entry.MountSource != "/dev/root" {
		t.Errorf("MountSource = %q, want /dev/root", entry.MountSource)
	}
}

func TestParseMountInfoLineMalformed(t *testing.T) {
	if _, ok := parseMountInfoLine("too short"); ok {
		t.Errorf("parseMountInfoLine() expected failure on malformed line")
	}
}

func TestIsDescendant(t *testing.T) {
	if !IsDescendant("/a/b", "/a/b") {
		t.Errorf("IsDescendant(/a/b, /a/b) = false, want true")
	}
	if !IsDescendant("/a/b", "/a/b/c") {
		t.Errorf("IsDescendant(/a/b, /a/b/c) = false, want true")
	}
	if IsDescendant("/a/b", "/a/bc") {
		t.Errorf("IsDescendant(/a/b, /a/bc) = true, want false")
	}
	if IsDescendant("/a/b", "/a") {
		t.Errorf("IsDescendant(/a/b, /a) = true, want false")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marker")
	if err := WriteFileAtomic(path, []byte("droidspaces"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "droidspaces" {
		t.Errorf("contents = %q, want droidspaces", data)
	}
}

func TestIsMountPoint(t *testing.T) {
	mounted, err := IsMountPoint("/proc")
	if err != nil {
		t.Fatalf("IsMountPoint() error = %v", err)
	}
	if !mounted {
		t.Errorf("IsMountPoint(/proc) = false, want true")
	}
}
