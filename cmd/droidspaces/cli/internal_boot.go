package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/boot"
	"github.com/droidspaces/droidspaces/internal/pkg/cgroups"
	"github.com/droidspaces/droidspaces/internal/pkg/container"
	"github.com/droidspaces/droidspaces/internal/pkg/ds"
	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
	"github.com/droidspaces/droidspaces/pkg/sylog"
)

// bootConfigFile is the on-disk, JSON-serializable form of boot.Config,
// written by the start command before forking and read back by both stages
// of internal-boot: the fork topology re-execs this binary (§5's Go
// concurrency mapping), so a Config value cannot simply be passed in memory.
type bootConfigFile struct {
	Container       *container.Container
	ConsoleSlave    string
	TTYSlaves       []string
	ResolvConf      string
	HostHierarchies []cgroups.Hierarchy
	CgroupNSActive  bool
	KernelMajor     int
}

func writeBootConfig(path string, cfg boot.Config) error {
	f := bootConfigFile{
		Container:       cfg.Container,
		ConsoleSlave:    cfg.ConsoleSlave,
		TTYSlaves:       cfg.TTYSlaves,
		ResolvConf:      cfg.ResolvConf,
		HostHierarchies: cfg.HostHierarchies,
		CgroupNSActive:  cfg.CgroupNSActive,
		KernelMajor:     cfg.KernelMajor,
	}
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshaling boot config")
	}
	return os.WriteFile(path, data, 0o600)
}

func readBootConfig(path string) (boot.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return boot.Config{}, errors.Wrap(err, "reading boot config")
	}
	var f bootConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return boot.Config{}, errors.Wrap(err, "unmarshaling boot config")
	}
	return boot.Config{
		Container:       f.Container,
		ConsoleSlave:    f.ConsoleSlave,
		TTYSlaves:       f.TTYSlaves,
		ResolvConf:      f.ResolvConf,
		HostHierarchies: f.HostHierarchies,
		CgroupNSActive:  f.CgroupNSActive,
		KernelMajor:     f.KernelMajor,
	}, nil
}

// newInternalBootCmd builds the hidden re-exec target for both stages of
// the fork topology (§5, §9's re-architecture table). It is never invoked
// directly by a user; ForkMonitor-equivalent logic below constructs its
// argv.
func newInternalBootCmd() *cobra.Command {
	var isMonitor bool
	var configPath string

	cmd := &cobra.Command{
		Use:    monitor.InternalBootSubcommand,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if isMonitor {
				return runMonitorStage(configPath)
			}
			return runInitStage(configPath)
		},
	}
	cmd.Flags().BoolVar(&isMonitor, "monitor", false, "run as the monitor stage of the fork topology")
	cmd.Flags().StringVar(&configPath, "config", "", "path to the serialized boot config")
	return cmd
}

// runMonitorStage forks the init stage (a re-exec of the same binary with
// --monitor dropped), reports its PID over the inherited sync pipe at FD 3,
// and then blocks reaping it, cleaning up sidecars on exit unless a restart
// marker is pending. Grounded on the
// teacher's MonitorContainer wait loop in
// internal/pkg/runtime/engine/apptainer/monitor_linux.go.
func runMonitorStage(configPath string) error {
	cfg, err := readBootConfig(configPath)
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "resolving own executable path")
	}
	argv := []string{exe, monitor.InternalBootSubcommand, "--config", configPath}

	// The init stage becomes PID 1 of a fresh PID namespace and gets its own
	// UTS/IPC namespaces here, at clone time: unshare(2) cannot move the
	// calling process itself into a new PID namespace, only the next child
	// it forks, so these namespaces are created via Cloneflags on this
	// ForkExec rather than a prior unix.Unshare call (the mount namespace,
	// entered later by boot.Run itself, is the exception, since CLONE_NEWNS
	// does take effect on the caller).
	cloneflags := uintptr(unix.CLONE_NEWUTS | unix.CLONE_NEWIPC | unix.CLONE_NEWPID)
	if cfg.CgroupNSActive && cgroups.NamespaceSupported() {
		cloneflags |= unix.CLONE_NEWCGROUP
	}
	procAttr := &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{0, 1, 2},
		Sys: &syscall.SysProcAttr{
			Cloneflags: cloneflags,
		},
	}
	initPID, err := syscall.ForkExec(exe, argv, procAttr)
	if err != nil {
		_ = monitor.WriteInitPID(3, 0)
		return errors.Wrap(ds.ErrBootFailure, "forking init stage")
	}
	if err := monitor.WriteInitPID(3, initPID); err != nil {
		sylog.Warningf("reporting init pid to parent: %s", err)
	}

	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(initPID, &ws, 0, nil)

	// A pending .restart marker means the next start reuses the preserved
	// mount, so the PID file and mount sidecar are left in place for it.
	restartPending := false
	if _, err := os.Stat(fmt.Sprintf("%s/%s.restart", monitor.PidsDir(), cfg.Container.Name)); err == nil {
		restartPending = true
	}
	if !restartPending && !cfg.Container.Flags.Volatile {
		monitor.RemoveSidecars(cfg.Container.Name)
	}
	os.Remove(configPath)
	return nil
}

// runInitStage is the stage that actually runs boot.Run; on success it
// execve's into /sbin/init and this function never returns.
func runInitStage(configPath string) error {
	cfg, err := readBootConfig(configPath)
	if err != nil {
		return err
	}
	if err := boot.Run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "droidspaces: boot failed:", err)
		os.Exit(1)
	}
	return nil // unreachable on success
}
