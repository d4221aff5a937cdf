package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/techbridge/techbridge/pkg/bridge"
	"github.com/techbridge/techbridge/pkg/history"
	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/mqtt"
	"github.com/techbridge/techbridge/pkg/server"
	"github.com/techbridge/techbridge/pkg/storage"
	"github.com/techbridge/techbridge/pkg/tech"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	client := tech.Configured()
	s := storage.Configured()
	b := bridge.Configured(client, s)
	mqttCfg := mqtt.Configured()
	historyCfg := history.Configured()

	// init server
	srv := server.Configured(b)

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
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if err := b.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start bridge", slog.Any("error", err))
		os.Exit(1)
	}

	if mqttCfg.Enabled() {
		mc, err := mqtt.Connect(ctx, *mqttCfg)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer mc.Close()
		pub := mqtt.NewPublisher(mc, b.Lookup(), *mqttCfg)
		defer b.Subscribe(pub.Listener())()
		cmds := mqtt.NewCommandHandler(ctx, b, b.Refresh, *mqttCfg)
		if err := cmds.Subscribe(mc); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to subscribe to mqtt commands", slog.Any("error", err))
			os.Exit(1)
		}
		defer cmds.Wait()
	}

	if historyCfg.Enabled() {
		hc, err := history.Connect(ctx, *historyCfg, b.Lookup())
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect to influxdb", slog.Any("error", err))
			os.Exit(1)
		}
		defer hc.Close()
		defer b.Subscribe(hc.Listener())()
	}

	go b.Run(ctx)

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
