// Command capctl works with CAP 1.2 documents offline: it validates them,
// renders them in canonical form and derives updates or cancellations.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "capctl",
		Usage:                "Validate, render and derive CAP 1.2 alerts",
		UsageText:            "capctl [command] <file>",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			newValidateCmd(),
			newRenderCmd(),
			newDeriveCmd(),
			newAssembleCmd(),
		},
	}
}
