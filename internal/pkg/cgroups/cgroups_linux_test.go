package cgroups

import "testing"

func TestParseControllers(t *testing.T) {
	got := parseControllers("rw,cpu,cpuacct")
	want := []string{"cpu", "cpuacct"}
	if len(got) != len(want) {
		t.Fatalf("parseControllers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseControllers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLeaf(t *testing.T) {
	if got := leaf("/sys/fs/cgroup"); got != "" {
		t.Errorf("leaf(/sys/fs/cgroup) = %q, want empty", got)
	}
	if got := leaf("/sys/fs/cgroup/memory"); got != "memory" {
		t.Errorf("leaf(/sys/fs/cgroup/memory) = %q, want memory", got)
	}
}

func TestRemapLeaf(t *testing.T) {
	if got := remapLeaf("memcg"); got != "memory" {
		t.Errorf("remapLeaf(memcg) = %q, want memory", got)
	}
	if got := remapLeaf("acct"); got != "cpuacct" {
		t.Errorf("remapLeaf(acct) = %q, want cpuacct", got)
	}
	if got := remapLeaf("cpu"); got != "cpu" {
		t.Errorf("remapLeaf(cpu) = %q, want cpu", got)
	}
}

func TestSelfCgroupPath(t *testing.T) {
	path, ok := selfCgroupPath("5:cpu,cpuacct:/user.slice")
	if !ok || path != "/user.slice" {
		t.Errorf("selfCgroupPath() = (%q, %v), want (/user.slice, true)", path, ok)
	}
	if _, ok := selfCgroupPath("malformed"); ok {
		t.Errorf("selfCgroupPath() on malformed line expected ok=false")
	}
}

func TestMatchesControllers(t *testing.T) {
	if !matchesControllers([]string{"cpu", "cpuacct"}, []string{"cpu", "cpuacct"}) {
		t.Errorf("matchesControllers() = false, want true for matching sets")
	}
	if matchesControllers([]string{"cpu"}, []string{"cpu", "cpuacct"}) {
		t.Errorf("matchesControllers() = true, want false for differing length")
	}
}

func TestMatchEntry(t *testing.T) {
	entries := []targetCgroupEntry{
		{controllers: []string{"cpu", "cpuacct"}, path: "/user.slice/a.scope"},
		{controllers: []string{""}, path: "/"},
	}
	if path, ok := matchEntry(entries, Hierarchy{Version: 1, Controllers: []string{"cpu", "cpuacct"}}); !ok || path != "/user.slice/a.scope" {
		t.Errorf("matchEntry() v1 = (%q, %v)", path, ok)
	}
	if path, ok := matchEntry(entries, Hierarchy{Version: 2}); !ok || path != "/" {
		t.Errorf("matchEntry() v2 = (%q, %v)", path, ok)
	}
}
