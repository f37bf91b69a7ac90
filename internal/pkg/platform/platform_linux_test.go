package platform

import "testing"

func TestParseKernelVersion(t *testing.T) {
	tests := []struct {
		release   string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{"4.9.337-perf+", 4, 9, false},
		{"5.15.0-1040-gcp", 5, 15, false},
		{"6.1.0", 6, 1, false},
		{"bogus", 0, 0, true},
	}
	for _, tt := range tests {
		major, minor, err := parseKernelVersion(tt.release)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseKernelVersion(%q) expected error", tt.release)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseKernelVersion(%q) unexpected error: %v", tt.release, err)
			continue
		}
		if major != tt.wantMajor || minor != tt.wantMinor {
			t.Errorf("parseKernelVersion(%q) = %d.%d, want %d.%d", tt.release, major, minor, tt.wantMajor, tt.wantMinor)
		}
	}
}

func TestMeetsMinimum(t *testing.T) {
	tests := []struct {
		major, minor int
		want         bool
	}{
		{2, 6, false},
		{3, 17, false},
		{3, 18, true},
		{3, 19, true},
		{4, 0, true},
		{5, 15, true},
	}
	for _, tt := range tests {
		if got := MeetsMinimum(tt.major, tt.minor); got != tt.want {
			t.Errorf("MeetsMinimum(%d, %d) = %v, want %v", tt.major, tt.minor, got, tt.want)
		}
	}
}
