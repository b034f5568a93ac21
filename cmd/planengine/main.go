package main

import (
	"os"

	"github.com/zenamanage/planengine/cmd"
	"github.com/zenamanage/planengine/internal/logger"
)

func main() {
	defer logger.HandlePanic(nil)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
