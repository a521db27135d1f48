// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"fmt"

	"github.com/pterm/pterm"
)

// Logger receives progress events from an Oracle's discovery loop. It is
// deliberately narrow: the oracle has no notion of log levels beyond
// "debug trace of what the discovery loop is doing".
type Logger interface {
	Debugf(format string, args ...any)
}

type ptermLogger struct {
	logger pterm.Logger
}

// NewLogger returns a Logger backed by pterm's default logger.
func NewLogger() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

func (l *ptermLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

type noopLogger struct{}

// NewNoopLogger returns a Logger that discards everything. It is the
// Oracle's default so that using the package without wiring up logging
// costs nothing.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (noopLogger) Debugf(string, ...any) {}
