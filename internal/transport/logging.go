// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	applog "pdmstream/internal/log"
)

// LoggingTransport writes every message to the debug log as JSON.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs data at debug level. It never fails.
func (lt *LoggingTransport) Send(data any) error {
	if applog.GetLevel() > applog.LevelDebug {
		return nil
	}
	if b, err := json.Marshal(data); err == nil {
		applog.Debugf("Transport: %s", b)
	} else {
		applog.Debugf("Transport: %T %+v", data, data)
	}
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error { return nil }

var _ Transport = (*LoggingTransport)(nil)
