// Command orchestrator is the process entrypoint: a thin package main
// that hands off to the cmd/orchestrator cobra command tree.
package main

import (
	"fmt"
	"os"

	cli "github.com/partarstu/agentic-qa-framework/cmd/orchestrator"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
