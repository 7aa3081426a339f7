package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/spartis/scanviewer/internal/api"
	"github.com/spartis/scanviewer/internal/config"
	"github.com/spartis/scanviewer/internal/logging"
	"github.com/spartis/scanviewer/internal/mesh"
	"github.com/spartis/scanviewer/internal/processing"
	"github.com/spartis/scanviewer/internal/storage"
	"github.com/spartis/scanviewer/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var logger = logging.New("server")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// configPath returns SCANVIEWER_CONFIG or the config file next to the
// executable.
func configPath() (string, error) {
	if p := os.Getenv("SCANVIEWER_CONFIG"); p != "" {
		return p, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), config.DefaultFileName), nil
}

func run() error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.SetLevel(cfg.Advanced.LogLevel)
	api.ShowErrorDetails = logging.ParseLevel(cfg.Advanced.LogLevel) == log.DEBUG

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir(), cfg.GetOutputDir())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress, checks, closeProgress, err := newProgressStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProgress()

	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	manager := processing.NewManager(fileStore, progress, pipeline,
		processing.WithJobTimeout(cfg.JobTimeout()))
	go cleanupLoop(ctx, cfg, manager, progress)

	loader := mesh.NewLoader(nil,
		mesh.WithCacheSize(cfg.Viewer.MeshCacheSize),
		mesh.WithMaxSize(int64(cfg.Viewer.MaxMeshSizeMB)<<20))

	e := echo.New()
	e.HideBanner = true
	e.Logger = logging.New("echo")
	api.SetupMiddleware(e, api.MiddlewareConfig{
		LogRequests: cfg.Advanced.EnableRequestLogging,
		BodyLimit:   cfg.Server.BodyLimit,
		CORSOrigins: cfg.CORSOrigins(),
	})

	handlers := api.NewHandlers(&api.Dependencies{
		Store:        fileStore,
		Manager:      manager,
		Loader:       loader,
		OutputDir:    cfg.GetOutputDir(),
		FrameSize:    image.Pt(cfg.Viewer.FrameWidth, cfg.Viewer.FrameHeight),
		FPS:          cfg.Viewer.FPS,
		WSReadLimit:  int64(cfg.Advanced.WebSocketMaxMessageSize) << 10,
		HealthChecks: checks,
		Version:      Version,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warnf("failed to register static routes: %v", err)
		}
	}

	s := &http.Server{
		Addr:              cfg.GetServerAddr(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Spartis Scan Viewer Server                      ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Pipeline:   %-45s║\n", pipeline.Name())
	fmt.Printf("║  Progress:   %-45s║\n", cfg.Processing.ProgressStore)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", cfgPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	errc := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("processing shutdown: %v", err)
	}
	return nil
}

// newProgressStore builds the configured progress store and its health
// checks.
func newProgressStore(ctx context.Context, cfg *config.AppConfig) (processing.ProgressStore, []api.HealthCheck, func(), error) {
	ttl := time.Duration(cfg.Processing.ProgressTTLMinutes) * time.Minute

	switch cfg.Processing.ProgressStore {
	case "", "memory":
		return processing.NewMemoryStore(ttl), nil, func() {}, nil
	case "redis":
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rs, err := processing.NewRedisStore(pingCtx, processing.RedisOptions{
			Addr:     cfg.Processing.RedisAddr,
			Password: cfg.Processing.RedisPassword,
			DB:       cfg.Processing.RedisDB,
			TTL:      ttl,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Infof("progress reports kept in redis at %s", cfg.Processing.RedisAddr)
		checks := []api.HealthCheck{{Name: "redis", Check: rs.Ping}}
		return rs, checks, func() { rs.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown progress store %q", cfg.Processing.ProgressStore)
	}
}

func newPipeline(cfg *config.AppConfig) (processing.Pipeline, error) {
	if cfg.Processing.PipelineCommand == "" {
		logger.Warn("no pipeline command configured, producing bounding-box previews")
		return processing.BoundsPipeline{}, nil
	}
	p, err := processing.ParseCommand(cfg.Processing.PipelineCommand)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline command: %w", err)
	}
	return p, nil
}

// cleanupLoop forgets finished jobs and expired progress reports.
func cleanupLoop(ctx context.Context, cfg *config.AppConfig, manager *processing.Manager, progress processing.ProgressStore) {
	interval := time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		return
	}
	retention := time.Duration(cfg.Processing.JobRetentionMinutes) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := manager.CleanupOldJobs(retention)
			if mem, ok := progress.(*processing.MemoryStore); ok {
				n += mem.Cleanup()
			}
			if n > 0 {
				logger.Debugf("cleanup removed %d entries", n)
			}
		}
	}
}
