// Command botshield runs the bot-detection consensus engine, either as an
// HTTP service or as a one-shot classifier for a single request.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
