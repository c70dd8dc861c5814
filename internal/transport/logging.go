// SPDX-License-Identifier: MIT
package transport

import (
	applog "cardio/internal/log"
)

// LoggingTransport writes every message to the debug log. It is useful when
// no network consumer is attached.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Debugf("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data at debug level.
func (lt *LoggingTransport) Send(data any) error {
	if applog.GetLevel() > applog.LevelDebug {
		return nil
	}
	l := applog.With("transport")
	l.Debug().Interface("data", data).Msg("telemetry")
	return nil
}

// Close is a no-op.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
