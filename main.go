// The main package for the kbmirror executable.
package main

import (
	"github.com/JakeFAU/kbmirror/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
