package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cloud-image-relay/internal/config"
	"cloud-image-relay/internal/logging"
	"cloud-image-relay/internal/relay"
	"cloud-image-relay/internal/server"
)

const (
	shutdownTimeout = 5 * time.Second
	connectTimeout  = 10 * time.Second
)

// serve validates cfg, wires the backend, relay and HTTP server, and blocks
// until a shutdown signal or a server error.
func serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", zap.String("warning", w))
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	backend, err := newBackend(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.Error("backend setup failed", zap.String("backend", cfg.Backend), zap.Error(err))
		return err
	}

	breaker := relay.NewCircuitBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, logger.Named("breaker"))
	r := relay.New(backend, relay.Options{
		UploadPreset: cfg.UploadPreset(),
		Breaker:      breaker,
		Logger:       logger.Named("relay"),
	})

	srv := server.New(server.Config{
		Addr:            cfg.Addr(),
		Build:           server.BuildInfo{Version: version, Commit: commit},
		Relay:           r,
		Breaker:         breaker,
		CORS:            server.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins, AllowAll: cfg.CORS.AllowAll},
		Static:          server.StaticConfig{Dir: cfg.Static.Dir, Index: cfg.Static.Index},
		MaxUploadBytes:  cfg.Upload.MaxBytes,
		MultipartMemory: cfg.Upload.MultipartMemory,
		Logger:          logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting",
			zap.String("addr", cfg.Addr()),
			zap.String("env", cfg.Env),
			zap.String("version", version),
			zap.String("commit", commit),
		)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
		return err
	}
}

// newBackend builds the vendor backend named by cfg.Backend.
func newBackend(ctx context.Context, cfg config.Config) (relay.Backend, error) {
	switch cfg.Backend {
	case config.BackendCloudinary:
		b, err := relay.NewCloudinaryBackend(relay.CloudinaryConfig{
			URL:          cfg.Cloudinary.URL,
			CloudName:    cfg.Cloudinary.CloudName,
			APIKey:       cfg.Cloudinary.APIKey,
			APISecret:    cfg.Cloudinary.APISecret,
			UploadPrefix: cfg.Cloudinary.UploadPrefix,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMinIO:
		b, err := relay.NewMinIOBackend(ctx, relay.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			PublicURL: cfg.MinIO.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
