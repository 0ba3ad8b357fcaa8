// Package main provides the pescope CLI tool.
package main

import (
	"os"

	"github.com/fatih/color"

	"github.com/ko4life-net/pe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Fprintf(os.Stderr, "\n错误: %v\n\n", err)
		os.Exit(1)
	}
}
