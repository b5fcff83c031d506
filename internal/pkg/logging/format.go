package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Output formats accepted by NewHandler.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// NewHandler returns the base handler for format. An empty format means text;
// pretty is colourised output for local runs.
func NewHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case FormatPretty:
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text, json or pretty)", format)
	}
}
