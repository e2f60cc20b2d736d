package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"ssddetect/internal/config"
	"ssddetect/internal/logger"
	"ssddetect/internal/repository/sqlite"
	"ssddetect/internal/route"
	"ssddetect/internal/service"
	"ssddetect/internal/service/ai"
	"ssddetect/internal/service/storage"
	"ssddetect/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

// App is the detection server: one loaded model shared by every request.
type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	detector   *ai.DetectorService
	hubService *websocket.HubService
	manager    *service.Manager
	handler    http.Handler
}

// NewApp loads the model, opens the history database and wires the routes.
func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	detector, err := ai.OpenDetectorService(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	runRepo := sqlite.NewRunRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)
	recorder := storage.NewRecorder(cfg, logger, runRepo, detectionRepo)
	hub := websocket.NewHubService(logger)
	manager := service.NewManager(detector, recorder, hub, logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		detector:   detector,
		hubService: hub,
		manager:    manager,
		handler:    route.SetupRoutes(manager, hub, logger, runRepo, detectionRepo),
	}, nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hubService.Run(hubCtx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: a.handler,
	}

	a.logger.Info("Detection server listening on http://localhost:%d", a.config.Port)
	opts := a.detector.Options()
	a.logger.Info("Model: %s (%s backend, %dx%d input, threshold %g), output: %s, history: %s",
		a.config.ModelPath, a.config.Backend, opts.InputWidth, opts.InputHeight, opts.Threshold,
		a.config.OutputDir, a.config.DBPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down detection server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Close releases the model and the database.
func (a *App) Close() error {
	return multierr.Combine(a.detector.Close(), a.db.Close())
}
