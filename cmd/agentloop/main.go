// Command agentloop runs a query or a plan-and-execute goal through the
// agent loop against an OpenAI, Anthropic or offline scripted backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
