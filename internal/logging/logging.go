// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// Options configures New.
type Options struct {
	Level   slog.Level
	NoColor bool
	// AddSource adds file:line to debug output.
	AddSource bool
}

// New returns a tint-backed logger writing to w. Error values are
// highlighted in red.
func New(w io.Writer, opts Options) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		AddSource:  opts.AddSource,
		TimeFormat: "2006-01-02 15:04:05.000Z07:00",
		NoColor:    opts.NoColor,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}
