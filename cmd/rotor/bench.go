package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotor/internal/bench"
)

func benchCmd() *cli.Command {
	var reportPath string

	flags := append([]cli.Flag{}, commonFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "report",
			Usage:       "write a JSON report to this path",
			Destination: &reportPath,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure rotary embedding throughput across shapes and dtypes",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, LoadConfig())
			log := buildLogger()

			cfg, err := bench.LoadConfig(benchConfig)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dev := buildDevice()
			log.Info("starting bench", "device", dev.String(), "shapes", len(cfg.Shapes))

			start := time.Now()
			results, err := bench.Run(dev, cfg, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Println("=== rotor bench ===")
			fmt.Printf("Device:  %s\n", dev.String())
			fmt.Printf("Elapsed: %s\n", time.Since(start).Round(time.Millisecond))
			fmt.Println()
			for _, r := range results {
				fmt.Printf("%-32s %-5s %-5s %12s tok/s %12s/s\n",
					r.Shape, r.DType, r.Mode,
					humanize.SIWithDigits(r.TokensSec, 2, ""),
					humanize.Bytes(uint64(r.BytesSec)))
			}

			if reportPath != "" {
				report := bench.NewReport(dev, results)
				if err := report.WriteJSON(reportPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				log.Info("report written", "path", reportPath, "run_id", report.RunID)
			}
			return nil
		},
	}
}
