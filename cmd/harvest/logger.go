package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

// setupLogger builds the process logger. format is "text" (colored tint
// output) or "json".
func setupLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("unsupported log level %q", level)
	}

	replaceAttrs := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				source.File = filepath.Base(source.File)
			}
		}
		return a
	}
	addSource := slogLevel <= slog.LevelDebug

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource:   addSource,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
		})), nil
	case "text", "":
		return slog.New(tint.NewHandler(w, &tint.Options{
			AddSource:   addSource,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor:     w != os.Stderr || os.Getenv("NO_COLOR") != "",
		})), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (want text or json)", format)
	}
}
