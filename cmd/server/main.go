package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accounts/internal/account"
	"accounts/internal/api"
	"accounts/internal/auth"
	"accounts/internal/config"
	"accounts/internal/db"
	"accounts/internal/media"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	slog.Info("starting server", "addr", cfg.Addr())

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "driver", cfg.Database.Driver)

	backend, mediaFiles, err := newMediaBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize media storage", "error", err)
		os.Exit(1)
	}
	mediaHost, err := media.NewHost(backend, cfg.Storage.UploadMaxBytes)
	if err != nil {
		slog.Error("failed to initialize media host", "error", err)
		os.Exit(1)
	}
	slog.Info("media storage initialized", "backend", cfg.Storage.Backend, "upload_max_bytes", cfg.Storage.UploadMaxBytes)

	users := db.NewUserRepository(database)
	tokens := auth.NewTokenService(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	accounts := account.NewService(users, tokens, auth.NewPasswordHasher(cfg.Auth.BcryptCost), mediaHost)

	cleanupService := db.NewCleanupService(users)
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	go cleanupService.Start(cleanupCtx)

	server := api.NewServer(cfg, database, accounts, mediaFiles)

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	cleanupCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newMediaBackend returns the configured backend and, for local storage, the
// file source served under /media/.
func newMediaBackend(ctx context.Context, cfg *config.Config) (media.Backend, api.MediaFiles, error) {
	if cfg.Storage.Backend == config.StorageS3 {
		backend, err := media.NewS3Backend(ctx, media.S3Options{
			Region:        cfg.Storage.S3.Region,
			Endpoint:      cfg.Storage.S3.Endpoint,
			Bucket:        cfg.Storage.S3.Bucket,
			AccessKey:     cfg.Storage.S3.AccessKey,
			SecretKey:     cfg.Storage.S3.SecretKey,
			PublicBaseURL: cfg.Storage.S3.PublicBaseURL,
			UsePathStyle:  cfg.Storage.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	}

	backend, err := media.NewLocalBackend(cfg.Storage.Root, cfg.Server.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	return backend, backend, nil
}
