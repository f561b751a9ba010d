package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotor/internal/bench"
)

func verifyCmd() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Cross-check the operator against the reference implementation",
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			log := buildLogger()

			cfg, err := bench.LoadConfig(benchConfig)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dev := buildDevice()

			checked, err := bench.Verify(dev, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("verify passed", "device", dev.String(), "cases", checked)
			return nil
		},
	}
}
