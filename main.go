package main

import (
	"fmt"
	"os"

	"github.com/shardflow/shardflow/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shardflow: %v\n", err)
		os.Exit(1)
	}
}
