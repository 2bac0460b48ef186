package main

import (
	"os"

	"github.com/timmy/loadgate/cmd/loadctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
