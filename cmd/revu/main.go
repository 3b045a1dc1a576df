// Command revu is the entry point for the Revu review question-answering
// service. It provides a CLI interface (via Cobra) and an HTTP server that
// answers buyer and seller questions grounded in product reviews.
package main

import (
	"fmt"
	"os"

	"github.com/aqzhen/Revu/cmd/revu/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
