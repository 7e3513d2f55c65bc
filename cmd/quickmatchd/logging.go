package main

import (
	"log/slog"
	"os"

	"github.com/pterm/pterm"
)

// newLogger monta o slog do binário. "pretty" usa o logger do pterm no
// terminal; os outros formatos escrevem em stderr.
func newLogger(cfg config) *slog.Logger {
	lvl, _ := cfg.level()
	switch cfg.LogFormat {
	case "pretty":
		pl := pterm.DefaultLogger.WithLevel(ptermLevel(lvl))
		return slog.New(pterm.NewSlogHandler(pl))
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
}

func ptermLevel(l slog.Level) pterm.LogLevel {
	switch {
	case l <= slog.LevelDebug:
		return pterm.LogLevelDebug
	case l <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case l <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}
