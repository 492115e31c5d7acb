package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "cityv-crowd/common/logger"
	"cityv-crowd/internal/config"
	"cityv-crowd/internal/service"

	"go.uber.org/zap"
)

func main() {
	date := flag.String("date", "", "roll up this YYYY-MM-DD once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "cityv-archiver")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	svc, err := service.NewArchiverService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create archiver service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *date != "" {
		go func() {
			<-sigChan
			cancel()
		}()
		report, err := svc.RunDate(ctx, *date)
		_ = svc.Stop(ctx)
		if err != nil {
			log.Fatal("Rollup failed", zap.String("summary_date", *date), zap.Error(err))
		}
		log.Info("Rollup finished",
			zap.String("summary_date", report.Date),
			zap.Int("success_count", report.Succeeded),
			zap.Int("error_count", report.Failed),
		)
		if report.Failed > 0 {
			_ = log.Sync()
			os.Exit(2)
		}
		return
	}

	log.Info("Starting cityv-archiver")

	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
		cancel()
	}

	if err := svc.Stop(ctx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
