package main

import (
	"os"

	"github.com/pingcap-incubator/tinydoc/cmd/tinydoc-ctl/command"
)

func main() {
	rootCmd := command.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
