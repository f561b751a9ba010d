package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotor/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "rotor",
		Usage:   "Rotary position embedding operator toolkit",
		Version: version.String(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			benchCmd(),
			verifyCmd(),
			infoCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
