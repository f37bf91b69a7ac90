package bin

import "testing"

func TestFindKnownBinary(t *testing.T) {
	if _, err := Find("sh"); err != nil {
		t.Skipf("sh not available in test environment: %v", err)
	}
}

func TestFindUnknown(t *testing.T) {
	if _, err := Find("definitely-not-a-real-binary-xyz"); err == nil {
		t.Errorf("Find() of nonexistent binary expected error")
	}
}
