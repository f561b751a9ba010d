package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotor/internal/logger"
	"github.com/samcharles93/rotor/pkg/device"
)

var (
	benchConfig string
	cores       int64
	logLevel    string
	logFormat   string
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a bench config YAML file",
			Destination: &benchConfig,
		},
		&cli.Int64Flag{
			Name:        "cores",
			Usage:       "override the device core count (0 = GOMAXPROCS)",
			Destination: &cores,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, text, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Text(os.Stderr, level)
	default:
		return logger.Pretty(os.Stderr, level)
	}
}

func buildDevice() *device.Device {
	if cores > 0 {
		return device.New("cpu", int(cores))
	}
	return device.Default()
}
