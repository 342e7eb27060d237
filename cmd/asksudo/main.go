// Command asksudo ingests documents into an owner-scoped vector index and
// retrieves the passages most relevant to a question. It runs as a CLI (via
// Cobra) or as an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/asksudo-go/cmd/asksudo/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
