// Command weaver is Weaver's CLI entrypoint: watch, sync, mcp, version.
package main

import (
	"fmt"
	"os"

	"github.com/weaver-md/weaver/cmd/weaver/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
