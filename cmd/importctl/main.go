// Command importctl inspects and imports bank exports from the terminal
package main

import (
	"os"

	"github.com/FACorreiaa/finance-import/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
