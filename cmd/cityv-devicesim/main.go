package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "cityv-crowd/common/logger"
	"cityv-crowd/internal/devicesim"

	"go.uber.org/zap"
)

func main() {
	scenarioPath := flag.String("scenario", "cmd/cityv-devicesim/scenarios/lunch_rush.toml", "TOML scenario file")
	baseURL := flag.String("base-url", "", "ingest API base URL, overrides the scenario")
	realtime := flag.Bool("realtime", false, "wait the scenario interval between steps")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	log, err := logpkg.NewLogger(*logLevel, "console", "cityv-devicesim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sc, err := devicesim.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatal("Failed to load scenario", zap.Error(err))
	}
	if *baseURL != "" {
		sc.BaseURL = *baseURL
	}
	if *realtime {
		sc.Realtime = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("Replaying scenario",
		zap.String("scenario", sc.Name),
		zap.String("base_url", sc.BaseURL),
		zap.Int("devices", len(sc.Devices)),
		zap.Int("steps", sc.Steps()),
		zap.Bool("realtime", sc.Realtime),
	)

	report, err := devicesim.NewSimulator(sc.BaseURL, log).Run(ctx, sc)
	if err != nil {
		log.Error("Replay stopped", zap.Error(err), zap.Int("sent", report.Sent))
		_ = log.Sync()
		os.Exit(1)
	}
}
