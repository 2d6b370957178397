package main

import (
	"os"

	"github.com/tazhate/tododav/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
