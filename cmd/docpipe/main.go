package main

import (
	"fmt"
	"os"

	"github.com/teranos/docpipe/cmd/docpipe/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
