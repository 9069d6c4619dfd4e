package main

import (
	"os"

	"github.com/zep-us/httpjobs/internal/cli"
	"github.com/zep-us/httpjobs/pkg/logger"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
