// Package logutil builds the slog loggers used by the server and CLI.
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
)

// LevelTrace is more verbose than debug; enabled with TUZIYO_DEBUG=2.
const LevelTrace slog.Level = -8

// NewLogger returns a text logger writing to w. Source locations are shortened
// to file:line and the custom trace level is printed as TRACE.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				switch attr.Value.Any().(slog.Level) {
				case LevelTrace:
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

// Trace logs at LevelTrace on l.
func Trace(l *slog.Logger, msg string, args ...any) {
	l.Log(context.TODO(), LevelTrace, msg, args...)
}
