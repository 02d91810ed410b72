// Package main provides warehousectl, the operational CLI for the warehouse
// pipeline. The external scheduler invokes one subcommand per stage; run
// executes the whole DAG for a single run date.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
