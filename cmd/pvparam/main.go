package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/edp1096/pvparam/pkg/config"
	"github.com/edp1096/pvparam/pkg/log"
)

func main() {
	cfg := config.Configured()

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag sets llog's level, the slog level follows it
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "pvparam failed", "mode", cfg.Mode, "error", err)
		os.Exit(1)
	}
}
