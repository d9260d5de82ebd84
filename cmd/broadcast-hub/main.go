package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"broadcast-hub/internal/broadcast"
	"broadcast-hub/internal/channel"
	"broadcast-hub/internal/config"
	"broadcast-hub/internal/core/network"
	"broadcast-hub/internal/hub"
	"broadcast-hub/internal/logging"
	"broadcast-hub/internal/metrics"
	"broadcast-hub/internal/statusapi"
)

var version = "0.2.0910"

func main() {
	os.Exit(run())
}

func run() int {
	path := flag.String("config", config.DefaultPath, "path to the hub settings file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	boot := logging.Bootstrap()
	cfg, err := config.Load(*path)
	if err != nil {
		boot.Error().Err(err).Str("path", *path).Msg("load config")
		return 1
	}

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		boot.Error().Err(err).Msg("configure logging")
		return 1
	}
	defer closer.Close()

	log.Info().Msgf("version: %s", version)
	log.Info().Msgf("build: %s", cfg.Application.Build)
	log.Info().
		Str("container", cfg.Application.ContainerName).
		Str("one_env2", cfg.Application.Environment2.OneEnv2).
		Str("sec_env2", cfg.Application.Environment2.SecEnv2).
		Msgf("environment: %s", strings.Join(cfg.Application.Environment, ","))

	transport, err := network.NewTransport(cfg.Network.Transport, cfg.TransportOptions())
	if err != nil {
		log.Error().Err(err).Msg("create transport")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	feed := statusapi.NewFeed(0)
	sinks := func(route channel.Route, l zerolog.Logger) broadcast.Sink {
		return statusapi.Tee(broadcast.LogSink{Log: l, Channel: route.Name}, feed.Sink(route.Name))
	}

	handle, err := hub.New(cfg, transport,
		hub.WithLogger(log),
		hub.WithMetrics(m),
		hub.WithSinkFactory(sinks),
	).Start(ctx)
	if err != nil {
		log.Error().Err(err).Msg("start hub")
		return 1
	}

	if addr := cfg.Status.Listen; addr != "" {
		mux := http.NewServeMux()
		statusapi.NewServer(handle, feed, m).Register(mux)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", addr).Msg("status api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status api")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := handle.Wait(); err != nil {
		log.Error().Err(err).Msg("hub exited with errors")
		return 1
	}
	log.Info().Msg("hub stopped")
	return 0
}
