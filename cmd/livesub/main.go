// Package main is the entry point for the livesub application.
package main

import (
	"os"

	"github.com/yuhao-tubi/multi-language-live-sub001/cmd/livesub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
