package main

import (
	"fmt"
	"os"

	"github.com/denniswebb/shuttlewire/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shuttlewire: %v\n", err)
		os.Exit(1)
	}
}
