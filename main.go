// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for keymaster-chatops.
//
// Usage:
//
//	go run . [flags]
//	./keymaster-chatops run <identity> <command> [args...]
//
// See --help for the full command list.
package main

import (
	"os"

	"github.com/toeirei/keymaster-chatops/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
