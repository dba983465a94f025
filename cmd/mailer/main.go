// Package main is the entry point for the mailer CLI.
package main

import (
	"os"
)

// version will be set at build time
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
