// Package main is the entry point for grid-preload.
package main

import (
	"context"
	"os"

	"grid-preload/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger.Error("", "%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
