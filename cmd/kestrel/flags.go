package main

import (
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kestrellm/kestrel/internal/logger"
)

var (
	maxContext int64
	logLevel   string
	logFormat  string
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "max context length (kv-cache token budget)",
			Value:       4096,
			Destination: &maxContext,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
	}
}

func buildLogger(w io.Writer) logger.Logger {
	level := logger.ParseLevel(logLevel)
	if logFormat == "json" {
		return logger.JSON(w, level)
	}
	return logger.Pretty(w, level)
}

func stderrLogger() logger.Logger {
	return buildLogger(os.Stderr)
}
