package config

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// NewLogger builds the console logger used by the CLI.
func NewLogger(c LoggingConfig) arbor.ILogger {
	level := c.Level
	if level == "" {
		level = "info"
	}
	return arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	}).WithLevelFromString(level)
}
