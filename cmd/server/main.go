package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/xray-api/internal/app"
	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server starting",
		"port", cfg.Port,
		"backend", cfg.Backend,
		"model", cfg.ModelPath,
		"classes", a.Metadata().Classes)
	logger.Info("endpoints",
		"GET /", "dashboard",
		"POST /analyze", "analyze from dashboard form",
		"GET /health", "health check",
		"POST /predict", "raw array prediction",
		"POST /predict/image", "predict from image upload",
		"GET /api/analyses", "analysis history",
		"GET /api/stats", "history statistics",
		"GET /ws/stats", "live statistics")
	logger.Info(fmt.Sprintf("upload test: curl -X POST -F \"image=@chest.jpg\" http://localhost:%d/predict/image", cfg.Port))

	if err := a.Run(ctx); err != nil {
		logger.Error("server failed", "error", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
}
