/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger configures the process-wide slog default handler.
type Logger struct {
	Format string
	Level  string
}

var (
	Formats = []string{"json", "text"}
	Levels  = []string{"debug", "info", "warn", "error"}

	level slog.Level
)

// Initialize installs the configured handler as the slog default. Empty
// fields fall back to json at level info.
func (l *Logger) Initialize() error {
	if l.Format == "" {
		l.Format = "json"
	}
	if l.Level == "" {
		l.Level = "info"
	}

	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return fmt.Errorf("unknown log level: %q", l.Level)
	}

	o := &slog.HandlerOptions{Level: level}
	if level == slog.LevelDebug {
		o.AddSource = true
	}

	var handler slog.Handler
	switch l.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, o)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, o)
	default:
		return fmt.Errorf("unknown log format: %q", l.Format)
	}

	slog.SetDefault(slog.New(handler))

	return nil
}

// Level returns the level last installed by Initialize.
func Level() slog.Level {
	return level
}
