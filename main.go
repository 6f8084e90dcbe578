package main

import (
	"fmt"
	"os"

	"tomgalvin.uk/niimprint/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
