package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPidFilePath(t *testing.T) {
	got := PidFilePath("alpine")
	if filepath.Base(got) != "alpine.pid" {
		t.Errorf("PidFilePath() = %q, want basename alpine.pid", got)
	}
}

// TestPIDFileFormatRoundTrip checks the "<pid>\n" on-disk format in a temp
// directory; WritePIDFile/ReadPIDFile themselves use the fixed PidsDir.
func TestPIDFileFormatRoundTrip(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "test.pid")
	if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "1234\n" {
		t.Errorf("unexpected pid file contents: %q", data)
	}
}

func TestIsAliveRejectsNonPositive(t *testing.T) {
	if IsAlive(0) {
		t.Errorf("IsAlive(0) = true, want false")
	}
	if IsAlive(-1) {
		t.Errorf("IsAlive(-1) = true, want false")
	}
}

func TestIsNamespaceInitSelf(t *testing.T) {
	// The test process itself is not PID 1 of its namespace.
	if isNamespaceInit(os.Getpid()) {
		t.Errorf("isNamespaceInit(self) = true, want false")
	}
}
