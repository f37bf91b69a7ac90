package pty

import "testing"

func TestTtyGroupGID(t *testing.T) {
	if ttyGroupGID() != 5 {
		t.Errorf("ttyGroupGID() = %d, want 5", ttyGroupGID())
	}
}

func TestRawModeNonTerminal(t *testing.T) {
	restore, err := RawMode()
	if err != nil {
		t.Fatalf("RawMode() error = %v", err)
	}
	restore()
}
