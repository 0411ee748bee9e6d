// Package main is the entry point for the scriptdesk CLI.
package main

import (
	"os"

	"github.com/KafClaw/scriptdesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
