package main

import (
	"os"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(apperr.ExitCodeOf(err))
	}
}
