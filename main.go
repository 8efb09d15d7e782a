// The main package for the partscope executable.
package main

import (
	"github.com/partlab/partscope/cmd"
)

func main() {
	cmd.Execute()
}
