package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droidspaces/droidspaces/internal/pkg/kernelcheck"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the host kernel meets droidspaces' requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCheck()
			return nil
		},
	}
}

// runCheck prints the kernel-configuration report named in §6; it never
// returns a non-zero exit by itself (the CLI surface keeps check usable
// even when start would refuse to run, per §8 scenario 6).
func runCheck() {
	r := kernelcheck.Probe()
	fmt.Printf("kernel:        %d.%d\n", r.KernelMajor, r.KernelMinor)
	fmt.Printf("android:       %t\n", r.IsAndroid)
	fmt.Printf("mnt ns:        %t\n", r.HasMountNS)
	fmt.Printf("uts ns:        %t\n", r.HasUTSNS)
	fmt.Printf("ipc ns:        %t\n", r.HasIPCNS)
	fmt.Printf("pid ns:        %t\n", r.HasPIDNS)
	fmt.Printf("cgroup ns:     %t\n", r.HasCgroupNS)
	fmt.Printf("overlayfs:     %t\n", r.HasOverlay)
	if r.OverlayErr != nil {
		fmt.Printf("overlayfs err: %s\n", r.OverlayErr)
	}
	fmt.Printf("sufficient:    %t\n", r.Sufficient())
}
