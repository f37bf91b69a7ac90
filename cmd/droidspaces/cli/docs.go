package cli

import (
	"github.com/spf13/cobra"
)

// newDocsCmd prints the usage text of every command in the tree, a minimal
// stand-in for the teacher's generated-documentation command now that the
// docs/plugin machinery it depended on has been trimmed (see DESIGN.md).
func newDocsCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:    "docs",
		Short:  "Print usage for every command",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printUsageTree(root)
		},
	}
}

func printUsageTree(c *cobra.Command) error {
	if err := c.Usage(); err != nil {
		return err
	}
	for _, child := range c.Commands() {
		if err := printUsageTree(child); err != nil {
			return err
		}
	}
	return nil
}
