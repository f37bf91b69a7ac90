package boot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIndexByte(t *testing.T) {
	if got := indexByte("FOO=bar", '='); got != 3 {
		t.Errorf("indexByte() = %d, want 3", got)
	}
	if got := indexByte("NOEQUALS", '='); got != len("NOEQUALS") {
		t.Errorf("indexByte() = %d, want len", got)
	}
}

func TestIsSystemdInit(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sbin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "lib", "systemd"), 0o755); err != nil {
		t.Fatal(err)
	}
	systemdBin := filepath.Join(dir, "lib", "systemd", "systemd")
	if f, err := os.Create(systemdBin); err == nil {
		f.Close()
	}
	if err := os.Symlink("../lib/systemd/systemd", filepath.Join(dir, "sbin", "init")); err != nil {
		t.Fatal(err)
	}
	if !isSystemdInit(dir) {
		t.Errorf("isSystemdInit() = false, want true")
	}
}

func TestIsSystemdInitNonSymlink(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sbin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if f, err := os.Create(filepath.Join(dir, "sbin", "init")); err == nil {
		f.Close()
	}
	if isSystemdInit(dir) {
		t.Errorf("isSystemdInit() = true, want false for regular file")
	}
}
