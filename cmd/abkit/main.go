package main

import (
	"os"

	"github.com/sveturs/abkit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
