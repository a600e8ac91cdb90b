package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/qci/apps/qcictl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "qcictl crashed: %v\n", r)
			if os.Getenv("QCI_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
