package cli

import (
	"net"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/cgroups"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/internal/pkg/enter"
	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
	"github.com/droidspaces/droidspaces/internal/pkg/pty"
	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// internalEnterSubcommand is the hidden re-exec target runEnter hands off
// to: it does the actual namespace join, chroot, and interior PTY
// allocation, then sends the PTY master back to runEnter's process over the
// inherited FD-3 socket before exec'ing the shell (§4.2 FD passing). A
// separate process is required for the same reason internal-boot's two
// stages are: setns(CLONE_NEWNS) and the final exec must not run in the
// process driving ProxyLoop's goroutines against the user's own terminal.
const internalEnterSubcommand = "internal-enter"

func newEnterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enter [user]",
		Short: "Attach an interactive shell inside a running container",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetUser := ""
			if len(args) == 1 {
				targetUser = args[0]
			}
			return runEnter(targetUser)
		},
	}
}

// newInternalEnterCmd builds the hidden hand-off target invoked by runEnter.
func newInternalEnterCmd() *cobra.Command {
	var targetPID int
	var targetUser string

	cmd := &cobra.Command{
		Use:    internalEnterSubcommand,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInternalEnterChild(targetPID, targetUser)
		},
	}
	cmd.Flags().IntVar(&targetPID, "target-pid", 0, "pid whose namespaces to join")
	cmd.Flags().StringVar(&targetUser, "user", "", "user to exec the shell as")
	return cmd
}

// runEnter implements §4.7's attach path: fork the internal-enter hand-off
// over a socketpair, receive the PTY master it allocates inside the
// container's own devpts instance, then proxy the user's terminal against
// it until the session ends.
func runEnter(targetUser string) error {
	if flags.name == "" {
		return errors.Wrap(ds.ErrConfiguration, "enter requires --name")
	}
	pid, err := monitor.ReadPIDFile(flags.name)
	if err != nil {
		return errors.Wrapf(ds.ErrResourceConflict, "no pid file for %s", flags.name)
	}
	if !monitor.IsAlive(pid) {
		return errors.Wrapf(ds.ErrResourceConflict, "%s is not running", flags.name)
	}

	sockFDs, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return errors.Wrap(err, "creating fd-passing socketpair")
	}
	parentFile := os.NewFile(uintptr(sockFDs[0]), "enter-parent-sock")
	childFile := os.NewFile(uintptr(sockFDs[1]), "enter-child-sock")

	exe, err := os.Executable()
	if err != nil {
		parentFile.Close()
		childFile.Close()
		return errors.Wrap(err, "resolving own executable path")
	}
	argv := []string{exe, internalEnterSubcommand, "--target-pid", strconv.Itoa(pid), "--user", targetUser}
	procAttr := &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{0, 1, 2, childFile.Fd()},
	}
	childPID, err := syscall.ForkExec(exe, argv, procAttr)
	childFile.Close()
	if err != nil {
		parentFile.Close()
		return errors.Wrap(err, "forking internal-enter hand-off")
	}

	parentConn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		return errors.Wrap(err, "wrapping fd-passing socket")
	}
	unixConn, ok := parentConn.(*net.UnixConn)
	if !ok {
		parentConn.Close()
		return errors.New("fd-passing socket is not a unix connection")
	}
	defer unixConn.Close()

	master, _, err := pty.RecvFD(unixConn)
	if err != nil {
		return errors.Wrap(err, "receiving pty master from internal-enter")
	}
	defer master.Close()

	if err := pty.ApplyStdinSize(master); err != nil {
		sylog.Debugf("applying tty size: %s", err)
	}
	return pty.ProxyLoop(master, childPID)
}

// runInternalEnterChild is the internal-enter hand-off body: join the
// target's cgroups and namespaces, chroot into its root, allocate a PTY
// (now inside the container's own devpts instance, since the mnt namespace
// has already been joined), send the master back to runEnter, then become
// the login shell.
func runInternalEnterChild(targetPID int, targetUser string) error {
	hostHierarchies, err := cgroups.DiscoverHost()
	if err != nil {
		hostHierarchies = nil
	}
	if err := enter.Into(targetPID, hostHierarchies); err != nil {
		return err
	}
	if err := enter.Chroot(targetPID); err != nil {
		return err
	}

	shell, uid, gid, homeDir, err := resolveLoginShell(targetUser)
	if err != nil {
		return err
	}

	pair, err := pty.Allocate()
	if err != nil {
		return errors.Wrap(err, "allocating interior pty")
	}

	conn, err := net.FileConn(os.NewFile(3, "enter-hand-off-sock"))
	if err != nil {
		return errors.Wrap(err, "wrapping inherited fd-passing socket")
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return errors.New("inherited fd-passing socket is not a unix connection")
	}
	if err := pty.SendFD(unixConn, int(pair.Master.Fd()), []byte("ok")); err != nil {
		return err
	}
	unixConn.Close()
	pair.Master.Close()

	if err := switchUser(uid, gid); err != nil {
		return err
	}
	if err := pty.EnterConsole(pair.Slave); err != nil {
		return err
	}

	env := []string{"TERM=" + envOrDefault("TERM", "xterm"), "HOME=" + homeDir, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	return unix.Exec(shell, []string{shell, "-l"}, env)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// resolveLoginShell looks up the requested username (root if empty) inside
// the now-entered container's /etc/passwd via the standard os/user lookup,
// which reads the container's own passwd file once chrooted/nsentered.
func resolveLoginShell(name string) (shell string, uid, gid int, home string, err error) {
	if name == "" {
		name = "root"
	}
	u, lookupErr := user.Lookup(name)
	if lookupErr != nil {
		return "/bin/sh", 0, 0, "/root", nil
	}
	uidN, _ := strconv.Atoi(u.Uid)
	gidN, _ := strconv.Atoi(u.Gid)
	return "/bin/sh", uidN, gidN, u.HomeDir, nil
}

func switchUser(uid, gid int) error {
	if gid != 0 {
		if err := unix.Setgid(gid); err != nil {
			return errors.Wrapf(err, "setgid(%d)", gid)
		}
	}
	if uid != 0 {
		if err := unix.Setuid(uid); err != nil {
			return errors.Wrapf(err, "setuid(%d)", uid)
		}
	}
	return nil
}
