// Package netconf configures host-side and rootfs-side networking for a
// container sharing the host network stack (no network namespace, §2
// Non-goals). Grounded on the teacher's pkg/util/sysctl for the host-side
// toggles and, for loopback bring-up, the onkernel-hypeman example's use
// of github.com/vishvananda/netlink, the first domain dependency this
// module wires in beyond the teacher's own set (§2.1).
package netconf

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/bin"
	"github.com/droidspaces/droidspaces/internal/pkg/fs"
	"github.com/droidspaces/droidspaces/pkg/sylog"
	"github.com/droidspaces/droidspaces/pkg/util/sysctl"
)

// defaultDNS is the fallback resolver list (Cloudflare then Google) used
// when the caller supplies no custom DNS servers (§4.6).
var defaultDNS = []string{"1.1.1.1", "8.8.8.8"}

// EnableIPv4Forwarding turns on net.ipv4.ip_forward on the host.
func EnableIPv4Forwarding() error {
	return sysctl.Set("net.ipv4.ip_forward", "1")
}

// SetIPv6Enabled toggles net.ipv6.conf.{all,default}.disable_ipv6 on the
// host to match the container's ipv6_enabled flag.
func SetIPv6Enabled(enabled bool) error {
	value := "1"
	if enabled {
		value = "0"
	}
	for _, scope := range []string{"all", "default"} {
		key := fmt.Sprintf("net.ipv6.conf.%s.disable_ipv6", scope)
		if err := sysctl.Set(key, value); err != nil {
			return errors.Wrapf(err, "setting %s", key)
		}
	}
	return nil
}

// BringUpLoopback ensures the host loopback interface is up, queried via
// netlink before the sysctl-based forwarding rules are applied so a
// failure here is diagnosed separately from the sysctl writes.
func BringUpLoopback() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return errors.Wrap(err, "looking up loopback interface")
	}
	if link.Attrs().Flags&unix.IFF_UP != 0 {
		return nil
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Wrap(err, "bringing up loopback interface")
	}
	return nil
}

// AndroidIPTablesPolicy applies the fixed Android network policy (§4.6):
// flush filter/FORWARD to ACCEPT, MASQUERADE 10.0.3.0/24, and redirect
// outbound TCP/UDP to the local stack. Idempotent: rules are not tracked
// for removal (§5 Mutation discipline).
func AndroidIPTablesPolicy() error {
	iptables, err := bin.Find("iptables")
	if err != nil {
		return err
	}
	rules := [][]string{
		{"-F"},
		{"-P", "FORWARD", "ACCEPT"},
		{"-t", "nat", "-A", "POSTROUTING", "-s", "10.0.3.0/24", "-j", "MASQUERADE"},
		{"-t", "nat", "-A", "OUTPUT", "-p", "tcp", "!", "-d", "127.0.0.1/32", "-j", "DNAT", "--to-destination", "127.0.0.1:1-65535"},
		{"-t", "nat", "-A", "OUTPUT", "-p", "udp", "!", "-d", "127.0.0.1/32", "-j", "DNAT", "--to-destination", "127.0.0.1:1-65535"},
	}
	for _, args := range rules {
		cmd := exec.Command(iptables, args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return errors.Wrapf(err, "iptables %s: %s", strings.Join(args, " "), out)
		}
	}
	return nil
}

// ResolvConf renders resolv.conf content: custom DNS servers first, else
// the Cloudflare/Google fallback pair.
func ResolvConf(customDNS []string) string {
	servers := customDNS
	if len(servers) == 0 {
		servers = defaultDNS
	}
	var b strings.Builder
	for _, s := range servers {
		fmt.Fprintf(&b, "nameserver %s\n", s)
	}
	return b.String()
}

// SetHostname sets the UTS hostname and persists it to /etc/hostname
// inside the rootfs (§4.6 Rootfs-side, called after pivot).
func SetHostname(hostname string) error {
	if err := unix.Sethostname([]byte(hostname)); err != nil {
		return errors.Wrap(err, "sethostname")
	}
	return fs.WriteFileAtomic("/etc/hostname", []byte(hostname+"\n"), 0o644)
}

// WriteHosts writes /etc/hosts with the localhost/hostname/IPv6 entries.
func WriteHosts(hostname string) error {
	content := fmt.Sprintf(
		"127.0.0.1\tlocalhost\n127.0.1.1\t%s\n::1\tlocalhost ip6-localhost ip6-loopback\nfe00::0\tip6-localnet\nff00::0\tip6-mcastprefix\nff02::1\tip6-allnodes\nff02::2\tip6-allrouters\n",
		hostname,
	)
	return fs.WriteFileAtomic("/etc/hosts", []byte(content), 0o644)
}

// WriteResolvConf writes the stashed resolv.conf content to
// /run/resolvconf/resolv.conf and symlinks /etc/resolv.conf to it.
func WriteResolvConf(content string) error {
	dir := "/run/resolvconf"
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(dir, "resolv.conf")
	if err := fs.WriteFileAtomic(target, []byte(content), 0o644); err != nil {
		return err
	}
	_ = os.Remove("/etc/resolv.conf")
	return os.Symlink(target, "/etc/resolv.conf")
}

// androidGroups are the three AID groups appended to /etc/group on
// Android rootfses (§4.6 Rootfs-side).
var androidGroups = []string{
	"aid_inet:x:3003:",
	"aid_net_raw:x:3004:",
	"aid_net_admin:x:3005:",
}

// EnsureAndroidGroups appends the AID network groups to /etc/group if
// missing, and adds root to aid_inet,aid_net_raw via usermod when
// available.
func EnsureAndroidGroups() error {
	const groupFile = "/etc/group"
	data, err := os.ReadFile(groupFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading %s", groupFile)
	}
	if strings.Contains(string(data), "aid_inet") {
		return nil
	}

	f, err := os.OpenFile(groupFile, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", groupFile)
	}
	defer f.Close()
	for _, line := range androidGroups {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return errors.Wrapf(err, "appending to %s", groupFile)
		}
	}

	if usermod, err := bin.Find("usermod"); err == nil {
		cmd := exec.Command(usermod, "-a", "-G", "aid_inet,aid_net_raw", "root")
		if out, err := cmd.CombinedOutput(); err != nil {
			sylog.Warningf("usermod failed to add root to aid groups: %s\n%s", err, out)
		}
	}
	return nil
}
