package pty

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SendFD sends fd over a Unix-domain socket connection using SCM_RIGHTS,
// the mechanism by which an intermediate process that entered the target
// namespaces to allocate a PTY hands the master back to the long-lived
// parent (§4.2 FD passing).
func SendFD(conn *net.UnixConn, fd int, payload []byte) error {
	rights := unix.UnixRights(fd)
	_, _, err := conn.WriteMsgUnix(payload, rights, nil)
	if err != nil {
		return errors.Wrap(err, "sending fd over unix socket")
	}
	return nil
}

// RecvFD receives one file descriptor sent by SendFD.
func RecvFD(conn *net.UnixConn) (*os.File, []byte, error) {
	buf := make([]byte, 256)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, nil, errors.Wrap(err, "receiving fd over unix socket")
	}
	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing socket control message")
	}
	if len(scms) == 0 {
		return nil, nil, errors.New("no control message received")
	}
	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing unix rights")
	}
	if len(fds) == 0 {
		return nil, nil, errors.New("no file descriptor received")
	}
	return os.NewFile(uintptr(fds[0]), "pty-master"), buf[:n], nil
}

// EnterConsole performs the controlling-terminal handoff sequence that
// must run in the final process before it execs the target shell: setsid,
// claim the slave as the controlling TTY, then dup it onto stdin/stdout/
// stderr. Must not run in an intermediate ancestor (§4.2 Controlling
// terminal discipline).
func EnterConsole(slave *os.File) error {
	if _, err := unix.Setsid(); err != nil {
		return errors.Wrap(err, "setsid")
	}
	fd := int(slave.Fd())
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		return errors.Wrap(err, "setting controlling tty")
	}
	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup2(fd, std); err != nil {
			return errors.Wrapf(err, "dup2 onto fd %d", std)
		}
	}
	if fd > 2 {
		_ = slave.Close()
	}
	return nil
}
