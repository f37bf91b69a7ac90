// Command droidspaces is the single-binary Droidspaces container runtime
// CLI, grounded on the teacher's cmd/apptainer entry point pattern: a thin
// main that defers to a root cobra command built up by each subcommand's
// own file.
package main

import (
	"os"

	"github.com/droidspaces/droidspaces/cmd/droidspaces/cli"
)

func main() {
	os.Exit(cli.Execute())
}
