// Command loom is the CLI/HTTP front-end over the core runtime: a thin
// transport, per spec.md §1 and §6, that never holds loop/permission/
// persistence logic itself.
package main

import (
	"fmt"
	"os"

	"github.com/loomlabs/loom/cmd/loom/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
