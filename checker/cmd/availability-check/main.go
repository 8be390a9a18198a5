// Command availability-check tests lists of domains, IP addresses and URLs
// for availability.
//
// Usage
// =====
//     availability-check run [file]        Test every subject of file (or stdin).
//     availability-check check <subject>   Test single subjects, nothing is stored.
//     availability-check cleanup [file]    Forget what a session already tested.
//
// Interrupted runs resume where they stopped when autocontinue is enabled or
// a --session is given.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
