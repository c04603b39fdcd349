package main

import (
	"fmt"
	"os"

	"github.com/j-c-b-s-t-w-s-k/coral/cmd/corald/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
