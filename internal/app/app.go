// Package app wires the classifier, history store, stats hub and HTTP server
// into one process.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Brownie44l1/xray-api/internal/analysis"
	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/handlers"
	"github.com/Brownie44l1/xray-api/internal/hub"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/model/onnx"
	"github.com/Brownie44l1/xray-api/internal/model/opencv"
	"github.com/Brownie44l1/xray-api/internal/model/tflite"
	"github.com/Brownie44l1/xray-api/internal/routes"
	"github.com/Brownie44l1/xray-api/internal/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config     *config.Config
	metadata   model.Metadata
	classifier model.Classifier
	db         *sqlite.DB
	store      *sqlite.AnalysisRepository
	hub        *hub.Hub
	stopHub    context.CancelFunc
	handler    http.Handler
	logger     *slog.Logger
}

// NewClassifier loads the model for the configured backend.
func NewClassifier(cfg *config.Config, md model.Metadata, logger *slog.Logger) (model.Classifier, error) {
	switch cfg.Backend {
	case config.BackendONNX:
		return onnx.NewServer(cfg.ModelPath, md, onnx.Options{
			LibraryPath: cfg.OnnxLibrary,
			Workers:     cfg.Workers,
		})
	case config.BackendOpenCV:
		return opencv.NewNet(cfg.ModelPath, "", md)
	case config.BackendTFLite:
		return tflite.NewInterpreter(cfg.ModelPath, md, cfg.Workers, logger)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// New loads metadata and the model, then builds the app around them.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	md, err := model.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	logger.Info("loading model", "backend", cfg.Backend, "path", cfg.ModelPath)
	classifier, err := NewClassifier(cfg, md, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s classifier: %w", cfg.Backend, err)
	}

	a, err := NewWithClassifier(cfg, md, classifier, logger)
	if err != nil {
		classifier.Close()
		return nil, err
	}
	return a, nil
}

// NewWithClassifier builds the app around an already loaded classifier. The
// app owns the classifier from then on.
func NewWithClassifier(cfg *config.Config, md model.Metadata, classifier model.Classifier, logger *slog.Logger) (*App, error) {
	a := &App{
		config:     cfg,
		metadata:   md,
		classifier: classifier,
		logger:     logger,
	}

	analyzerOpts := []analysis.Option{
		analysis.WithLogger(logger),
		analysis.WithMaxPixels(cfg.MaxPixels),
	}
	if cfg.HistoryEnabled() {
		db, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		a.db = db
		a.store = sqlite.NewAnalysisRepository(db)

		a.hub = hub.New(logger)
		var hubCtx context.Context
		hubCtx, a.stopHub = context.WithCancel(context.Background())
		go a.hub.Run(hubCtx)

		analyzerOpts = append(analyzerOpts,
			analysis.WithRecorder(a.store),
			analysis.WithNotify(a.PublishStats))
		logger.Info("analysis history enabled", "path", cfg.DatabasePath)
	}

	h := handlers.NewHandler(handlers.Deps{
		Analyzer:  analysis.New(classifier, analyzerOpts...),
		Store:     a.store,
		Hub:       a.hub,
		Metadata:  md,
		MaxUpload: cfg.MaxUploadBytes(),
		Notify:    a.PublishStats,
		Logger:    logger,
	})
	a.handler = routes.SetupRoutes(h, cfg, logger)
	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Metadata() model.Metadata {
	return a.metadata
}

// PublishStats pushes the current statistics to connected dashboards.
func (a *App) PublishStats(ctx context.Context) {
	if a.store == nil {
		return
	}
	stats, err := a.store.Stats(ctx)
	if err != nil {
		a.logger.Warn("failed to collect stats", "error", err)
		return
	}
	stats.ModelAccuracy = a.metadata.Accuracy

	payload, err := json.Marshal(stats)
	if err != nil {
		a.logger.Warn("failed to encode stats", "error", err)
		return
	}
	a.hub.Broadcast(payload)
}

// Run listens on the configured port until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close stops the hub and releases the store and the classifier.
func (a *App) Close() error {
	if a.stopHub != nil {
		a.stopHub()
	}

	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history store: %w", err))
		}
	}
	if err := a.classifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close classifier: %w", err))
	}
	return errors.Join(errs...)
}
