package loop

import "testing"

func TestGetMaxLoopDevices(t *testing.T) {
	if got := GetMaxLoopDevices(); got != defaultMaxLoopDevices {
		t.Errorf("GetMaxLoopDevices() = %d, want %d", got, defaultMaxLoopDevices)
	}
}

func TestDeviceCloseNil(t *testing.T) {
	var d Device
	if err := d.Close(); err != nil {
		t.Errorf("Close() on unattached device returned %v, want nil", err)
	}
}
