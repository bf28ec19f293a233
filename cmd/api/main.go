package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eveshi/bitranslator/internal/app"
	"github.com/eveshi/bitranslator/internal/backend"
	"github.com/eveshi/bitranslator/internal/blob"
	"github.com/eveshi/bitranslator/internal/config"
	"github.com/eveshi/bitranslator/internal/export"
	"github.com/eveshi/bitranslator/internal/jobsync"
	"github.com/eveshi/bitranslator/internal/render"
	"github.com/eveshi/bitranslator/internal/search"
	"github.com/eveshi/bitranslator/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	backendClient := backend.New(cfg.BackendURL)

	pgFallback := search.NewPgFallback(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgFallback)
	if meiliClient != nil {
		defer meiliClient.Close()
		searchService.ReindexAllFromPG(ctx, db)
	}

	var renderCache *render.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		renderCache, err = render.NewCache(cfg.RedisURL, cfg.RenderCacheTTL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, rendering without cache: %v", err)
			renderCache = nil
		} else {
			defer renderCache.Close()
		}
	}

	var artifacts *blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		artifacts, err = blob.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: minio unavailable, artifacts disabled: %v", err)
			artifacts = nil
		}
	}

	exporter := export.NewService(dataStore)

	// renderCache and artifacts may be nil pointers; their methods are
	// nil-safe, so the service treats a missing backend as a no-op.
	service := app.NewService(dataStore, backendClient, renderCache, searchService, artifacts, exporter, db)
	service.SetPoller(jobsync.NewPoller(backendClient, service, cfg.PollInterval))

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("bitranslator API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
