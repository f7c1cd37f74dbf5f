// Package logging builds the zap loggers used across the engine. Library
// code receives a logger by injection and never logs by default; the CLI
// decides how loud to be.
package logging

import "go.uber.org/zap"

// New returns a logger for the requested verbosity: "debug" and "verbose"
// get a development logger, "info" a production logger, anything else a
// nop.
func New(level string) (*zap.Logger, error) {
	switch level {
	case "debug", "verbose":
		return zap.NewDevelopment()
	case "info":
		return zap.NewProduction()
	default:
		return zap.NewNop(), nil
	}
}
