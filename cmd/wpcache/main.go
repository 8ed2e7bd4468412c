package main

import (
	"os"

	"github.com/hearthlist/wpcache/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
