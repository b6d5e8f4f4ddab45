// Command arranger runs conversions locally and manages model weight files.
//
// Usage:
//
//	arranger convert --in song.mxl --out ./out --voices 4
//	arranger gen-model --out acapella_model.msgpack
//	arranger inspect-model --model acapella_model.msgpack
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	app := &cli.App{
		Name:           "arranger",
		Usage:          "Turn scores into a cappella arrangements",
		Version:        version,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			convertCommand(),
			genModelCommand(),
			inspectModelCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitErr.ExitCode())
	}
	fmt.Fprintln(os.Stderr, "error:", err)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "arranger %s\n", version)
			return nil
		},
	}
}
