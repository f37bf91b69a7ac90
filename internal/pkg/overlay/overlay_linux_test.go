package overlay

import (
	"testing"

	"golang.org/x/sys/unix"
)

// statfsType returns a filesystem magic constant as the int64 that
// unix.Statfs_t.Type is on 64-bit Linux; it performs no per-arch conversion.
func statfsType(magic int64) int64 {
	return magic
}

func TestCheckIncompatible(t *testing.T) {
	defer func() { statfs = unix.Statfs }()

	tests := []struct {
		name    string
		magic   int64
		d       dir
		wantErr bool
	}{
		{"nfs as upper", Nfs, upperDir, true},
		{"nfs as lower", Nfs, lowerDir, false},
		{"f2fs as lower", F2fs, lowerDir, true},
		{"f2fs as upper", F2fs, upperDir, false},
		{"ext4 as lower", 0xEF53, lowerDir, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statfs = func(path string, buf *unix.Statfs_t) error {
				buf.Type = statfsType(tt.magic)
				return nil
			}
			err := check("/some/path", tt.d)
			if (err != nil) != tt.wantErr {
				t.Errorf("check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsIncompatible(err) {
				t.Errorf("expected IsIncompatible(err) to be true")
			}
		})
	}
}

func TestContainsOverlayLine(t *testing.T) {
	if !containsOverlayLine("nodev\tsysfs\nnodev\toverlay\next4\n") {
		t.Errorf("expected overlay line to be detected")
	}
	if containsOverlayLine("nodev\tsysfs\next4\n") {
		t.Errorf("did not expect overlay line to be detected")
	}
}
