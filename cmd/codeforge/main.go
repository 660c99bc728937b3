// Command codeforge exposes the apply engine and repo indexer's
// operations (apply, query, index rebuild/warm, doctor) as a CLI built on
// cobra.
package main

import (
	"fmt"
	"os"

	"github.com/forgeware/codeforge/cmd/codeforge/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
