package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/policyhub/pkg/logging"
)

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// stderrLogger keeps stdout free for JSON lines.
func stderrLogger(w io.Writer, verbose bool) *logrus.Logger {
	level := logrus.WarnLevel
	if verbose {
		level = logrus.DebugLevel
	}
	logger := logging.ConsoleLogger(level)
	logger.SetOutput(w)
	return logger
}
