package seccomp

import "testing"

func TestShouldActivate(t *testing.T) {
	tests := []struct {
		major int
		want  bool
	}{
		{3, true},
		{4, true},
		{5, false},
		{6, false},
	}
	for _, tt := range tests {
		if got := shouldActivate(tt.major); got != tt.want {
			t.Errorf("shouldActivate(%d) = %v, want %v", tt.major, got, tt.want)
		}
	}
}

func TestNamespaceMask(t *testing.T) {
	if NamespaceMask != 0x7E020000 {
		t.Errorf("NamespaceMask = 0x%x, want 0x7E020000", NamespaceMask)
	}
}
