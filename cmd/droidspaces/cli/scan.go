package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droidspaces/droidspaces/internal/pkg/monitor"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Adopt running containers whose pid file was lost",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan()
		},
	}
}

// runScan implements §8 scenario 5: walk /proc for live droidspaces inits
// with no matching pid file and write one under an auto-generated name.
func runScan() error {
	adopted, err := monitor.OrphanScan(monitor.NameAlive)
	if err != nil {
		return err
	}
	if len(adopted) == 0 {
		fmt.Println("no orphans found")
		return nil
	}
	for _, pid := range adopted {
		fmt.Printf("adopted orphan pid %d\n", pid)
	}
	return nil
}
