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
	"golang.org/x/sync/errgroup"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/hass"
	"github.com/cwbridge/cwbridge/pkg/integration"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/rank"
	"github.com/cwbridge/cwbridge/pkg/server"
	"github.com/cwbridge/cwbridge/pkg/storage"
)

func main() {
	// init packages
	s := storage.Configured()
	enc := storage.ConfiguredEncrypter()
	c := checkwatt.Configured()
	r := rank.Configured()
	p := hass.Configured()

	m := integration.Configured(s, enc, c, r, p)

	// init server
	srv := server.Configured(m)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if err := p.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt broker", slog.Any("error", err))
		os.Exit(1)
	}
	defer p.Close()

	// either one failing stops the other
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "cwbridge failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "cwbridge exited cleanly")
}
