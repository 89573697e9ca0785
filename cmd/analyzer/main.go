package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"analytics-enginev1/config"
	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("ANALYZER_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("analyzer", logger.ParseLevel("info")).Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.Init("analyzer", logger.ParseLevel(cfg.LogLevel))

	svc, err := service.New(cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.Error("init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx, prometheus.DefaultGatherer); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}
