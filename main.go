package main

import (
	"fmt"
	"os"

	"github.com/amirkhaki/lincheck/cmd/lincheck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lincheck: %v\n", err)
		os.Exit(1)
	}
}
