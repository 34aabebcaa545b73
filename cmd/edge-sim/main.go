// edge-sim simulates a field device: it publishes temperature and
// vibration readings to the broker and follows setpoint commands.
package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	mqtt "github.com/dratasich/telemetry-cache"
	"github.com/dratasich/telemetry-cache/config"
)

func main() {
	deviceID := flag.String("device", "Machine1", "device id to publish as")
	interval := flag.Duration("interval", 2*time.Second, "time between readings")
	setpoint := flag.Float64("setpoint", 22.0, "initial temperature setpoint")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Msgf("Invalid configuration: %s", err)
	}
	cfg.ConfigureLogging()
	if err := cfg.MQTT.Validate(); err != nil {
		log.Fatal().Msgf("Invalid configuration: %s", err)
	}

	dev := mqtt.NewDevice(cfg.MQTT, *deviceID)
	if err := dev.Connect(ctx); err != nil {
		log.Fatal().Msgf("Failed to connect: %s", err)
	}
	defer dev.Disconnect(context.Background())

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	sp := *setpoint
	for {
		select {
		case <-ctx.Done():
			return
		case sp = <-dev.SetpointQueue:
			log.Info().Msgf("Setpoint changed to %.2f", sp)
		case <-ticker.C:
			if err := dev.PublishTelemetry(ctx, reading(sp)); err != nil {
				log.Error().Msgf("Failed to publish telemetry: %s", err)
			}
		}
	}
}

// reading simulates one sample around the setpoint.
func reading(setpoint float64) map[string]float64 {
	return map[string]float64{
		"temp_c":    round2(setpoint + (rand.Float64()*3 - 1.5)),
		"vibration": round2(rand.Float64() * 5),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
