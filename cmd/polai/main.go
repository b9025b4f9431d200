// Command polai is the entry point for the polai policy assistant.
// It provides a CLI interface (via Cobra), an interactive terminal chat,
// and an optional HTTP server exposing the assistant over SSE.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/54b3r/polai-go/cmd/polai/commands"
)

func main() {
	// Best-effort: a .env in the working directory supplements the
	// environment, never overrides it. Absence is not an error.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
