// The main package for the pipeline executable.
package main

import (
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
