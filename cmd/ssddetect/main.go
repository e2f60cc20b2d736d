package main

import (
	"fmt"
	"os"

	"ssddetect/internal/app"
)

func main() {
	if err := app.NewCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ssddetect: %v\n", err)
		os.Exit(app.ExitCode(err))
	}
}
