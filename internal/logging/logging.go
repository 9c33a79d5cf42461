/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string, capture ...io.Writer) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout, capture...)
}

// SetupWithWriter configures zerolog to write to out. Production writes JSON
// lines; any other environment gets the console writer. Every capture writer
// receives the raw JSON lines regardless of environment.
func SetupWithWriter(environment string, out io.Writer, capture ...io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var writer io.Writer = zerolog.ConsoleWriter{Out: out}
	switch environment {
	case "development":
		level = zerolog.DebugLevel
	case "production":
		writer = out
	}

	if len(capture) > 0 {
		writer = zerolog.MultiLevelWriter(append([]io.Writer{writer}, capture...)...)
	}

	logger := zerolog.New(writer).With().Timestamp().Str("service", "voxqueue").Logger().Level(level)
	log.Logger = logger
	return logger
}
