package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	mqtt "github.com/dratasich/telemetry-cache"
	"github.com/dratasich/telemetry-cache/api"
	"github.com/dratasich/telemetry-cache/clock"
	"github.com/dratasich/telemetry-cache/config"
	"github.com/dratasich/telemetry-cache/metrics"
	"github.com/dratasich/telemetry-cache/normalize"
	"github.com/dratasich/telemetry-cache/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Msgf("Invalid configuration: %s", err)
	}
	cfg.ConfigureLogging()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Msgf("Telemetry cache failed: %s", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	clk := clock.Real()
	st := store.New(store.WithClock(clk), store.WithHistoryLimit(cfg.HistoryLimit))
	n := normalize.New(clk)

	m := metrics.New(st.Len)
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return err
	}
	opts := []api.Option{api.WithMetrics(m, reg)}

	if cfg.MQTT.Enabled {
		gw := mqtt.NewGateway(cfg.MQTT, n, st, m)
		if err := gw.Start(ctx); err != nil {
			return err
		}
		defer gw.Stop(context.Background())
		opts = append(opts, api.WithCommander(gw))
	} else {
		log.Info().Msg("MQTT disabled, serving HTTP ingest only")
	}

	// blocks until ctx is cancelled
	return api.New(cfg.HTTP, n, st, opts...).Start(ctx)
}
