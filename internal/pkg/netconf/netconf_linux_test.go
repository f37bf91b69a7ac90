package netconf

import "testing"

func TestResolvConfCustom(t *testing.T) {
	got := ResolvConf([]string{"9.9.9.9"})
	if got != "nameserver 9.9.9.9\n" {
		t.Errorf("ResolvConf(custom) = %q", got)
	}
}

func TestResolvConfDefault(t *testing.T) {
	got := ResolvConf(nil)
	if got != "nameserver 1.1.1.1\nnameserver 8.8.8.8\n" {
		t.Errorf("ResolvConf(nil) = %q", got)
	}
}
