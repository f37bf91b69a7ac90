// Package pty allocates and proxies the container's console and auxiliary
// TTYs. Grounded on the teacher's terminal handling in
// internal/app/apptainer/oci_attach_linux.go (term.MakeRaw/pty.Getsize) and
// the signal-loop idiom of
// internal/pkg/runtime/engine/apptainer/monitor_linux.go, generalized from
// a single attach socket to the fork-topology console handoff of §4.2.
package pty

import (
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cpty "github.com/creack/pty"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// Pair is one allocated PTY: Master is retained by the monitor (or the
// foreground parent), SlavePath is bind-mounted into the container's
// rootfs before pivot_root and then closed on this side.
type Pair struct {
	Master    *os.File
	Slave     *os.File
	SlavePath string
}

// Allocate opens one master/slave pair with close-on-exec set on both FDs
// and the slave owned root:tty mode 0620 (§4.2 Creation).
func Allocate() (*Pair, error) {
	master, slave, err := cpty.Open()
	if err != nil {
		return nil, errors.Wrap(err, "allocating pty pair")
	}
	if err := unix.SetNonblock(int(master.Fd()), false); err != nil {
		master.Close()
		slave.Close()
		return nil, errors.Wrap(err, "setting pty master blocking mode")
	}
	if err := os.Chmod(slave.Name(), 0o620); err != nil {
		master.Close()
		slave.Close()
		return nil, errors.Wrapf(err, "chmod %s", slave.Name())
	}
	if err := os.Chown(slave.Name(), 0, ttyGroupGID()); err != nil {
		sylog.Debugf("chown %s to tty group failed: %s", slave.Name(), err)
	}
	return &Pair{Master: master, Slave: slave, SlavePath: slave.Name()}, nil
}

// ttyGroupGID returns 5, the conventional "tty" group id on both desktop
// Linux and Android userspace.
func ttyGroupGID() int { return 5 }

// AllocateSet allocates one console PTY plus n auxiliary TTY PTYs, the
// parent-side pre-fork allocation of §4.2 (n = devices.NumAuxTTYs).
func AllocateSet(n int) (console *Pair, ttys []*Pair, err error) {
	console, err = Allocate()
	if err != nil {
		return nil, nil, err
	}
	ttys = make([]*Pair, 0, n)
	for i := 0; i < n; i++ {
		p, err := Allocate()
		if err != nil {
			console.Master.Close()
			for _, t := range ttys {
				t.Master.Close()
			}
			return nil, nil, err
		}
		ttys = append(ttys, p)
	}
	return console, ttys, nil
}

// ApplyStdinSize queries the parent's stdin window size, when it is a
// terminal, and applies it to the console master so the slave is correctly
// sized before guest init inspects it (§4.2 Initial window size).
func ApplyStdinSize(console *os.File) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	size, err := cpty.GetsizeFull(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin window size")
	}
	return cpty.Setsize(console, size)
}

// RawMode puts the process's stdin into raw mode for the duration of the
// proxy loop and returns a restore function (§4.2 Raw mode).
func RawMode() (restore func(), err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errors.Wrap(err, "entering raw terminal mode")
	}
	return func() { _ = term.Restore(fd, state) }, nil
}

// ProxyLoop bridges the user's terminal and the console master until the
// master hangs up or the monitored pid exits, matching the signal-channel
// idiom of MonitorContainer: os/signal.Notify feeds a channel instead of a
// package-level handler touching shared state (§9 redesign note, §4.2
// Proxy loop). SIGWINCH re-reads stdin's window size onto the master;
// SIGINT/SIGTERM forward to targetPID; SIGCHLD triggers a non-blocking
// reap and loop exit once targetPID itself has exited.
func ProxyLoop(console *os.File, targetPID int) error {
	restore, err := RawMode()
	if err != nil {
		return err
	}
	defer restore()

	sigs := make(chan os.Signal, 16)
	signal.Notify(sigs, syscall.SIGWINCH, syscall.SIGINT, syscall.SIGTERM, syscall.SIGCHLD)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go func() {
		_, _ = io.Copy(console, os.Stdin)
	}()
	go func() {
		buf := make([]byte, 8192)
		for {
			n, err := console.Read(buf)
			if n > 0 {
				if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
		closeDone()
	}()

	for {
		select {
		case s := <-sigs:
			switch s {
			case syscall.SIGWINCH:
				if err := ApplyStdinSize(console); err != nil {
					sylog.Debugf("resizing console on SIGWINCH: %s", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				_ = syscall.Kill(targetPID, s.(syscall.Signal))
			case syscall.SIGCHLD:
				var status syscall.WaitStatus
				wpid, _ := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
				if wpid == targetPID {
					return nil
				}
			}
		case <-done:
			return nil
		}
	}
}
