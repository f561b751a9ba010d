package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotor/internal/version"
)

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Print the device descriptor",
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			dev := buildDevice()

			fmt.Printf("rotor:      %s\n", version.String())
			fmt.Printf("device:     %s\n", dev.Name())
			fmt.Printf("cores:      %d\n", dev.Cores())
			fmt.Printf("gomaxprocs: %d\n", runtime.GOMAXPROCS(0))
			feats := dev.Features()
			if len(feats) == 0 {
				fmt.Println("features:   none detected")
			} else {
				fmt.Printf("features:   %s\n", strings.Join(feats, ","))
			}
			return nil
		},
	}
}
