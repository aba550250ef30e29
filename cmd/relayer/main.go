package main

import (
	"os"

	"github.com/scalarorg/kakarot-relayer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
