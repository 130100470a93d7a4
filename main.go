package main

import (
	"os"

	"github.com/okonma/rendercache/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
