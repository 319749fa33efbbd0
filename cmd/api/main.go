package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"eurobansync/api/internal/app"
	"eurobansync/api/internal/authpw"
	"eurobansync/api/internal/blob"
	"eurobansync/api/internal/config"
	"eurobansync/api/internal/email"
	"eurobansync/api/internal/export"
	"eurobansync/api/internal/logger"
	"eurobansync/api/internal/notify"
	"eurobansync/api/internal/observability"
	"eurobansync/api/internal/search"
	"eurobansync/api/internal/session"
	"eurobansync/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.Must(logger.Options{Mode: cfg.LogMode, File: cfg.LogFile})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Init(ctx, log, observability.Config{
		ServiceName:  "eurobansync-api",
		Environment:  cfg.LogMode,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Stdout:       cfg.TraceStdout,
	})
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatal("migrations failed", "error", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", "versions", applied)
	}
	dataStore := store.NewPostgresStore(db)

	blobs, err := blob.New(ctx, blob.Options{
		Backend:            cfg.BlobBackend,
		Bucket:             cfg.BlobBucket,
		MinIOEndpoint:      cfg.MinIOEndpoint,
		MinIOAccessKey:     cfg.MinIOAccessKey,
		MinIOSecretKey:     cfg.MinIOSecretKey,
		MinIOUseSSL:        cfg.MinIOUseSSL,
		GCSCredentialsFile: cfg.GCSCredentialsFile,
		GitDir:             cfg.GitBlobDir,
	})
	if err != nil {
		log.Fatal("blob storage init failed", "backend", cfg.BlobBackend, "error", err)
	}
	if closer, ok := blobs.(io.Closer); ok {
		defer closer.Close()
	}
	log.Info("blob storage ready", "backend", cfg.BlobBackend, "bucket", cfg.BlobBucket)

	deps := app.Deps{Store: dataStore, Blobs: blobs}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := session.NewPrincipalCache(cfg.RedisURL, cfg.RoleCacheTTL)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer cache.Close()
		deps.Cache = cache
		log.Info("principal cache enabled", "ttl", cfg.RoleCacheTTL.String())
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(log, cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		engine = meiliClient
	}
	searchService := search.NewService(log, engine, search.NewPgFTS(dataStore), store.SystemActor)
	deps.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	notifyOpts := notify.Options{
		Profiles: dataStore,
		LinkBase: cfg.AppBaseURL,
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		notifyOpts.Mailer = mailer
	} else {
		log.Info("email delivery disabled; SMTP_HOST or SMTP_FROM not set")
	}
	if strings.TrimSpace(cfg.NotifyWebhookURL) != "" {
		sink, err := notify.NewEventSink(cfg.NotifyWebhookURL)
		if err != nil {
			log.Fatal("notification webhook init failed", "error", err)
		}
		notifyOpts.Sink = sink
	}
	dispatcher := notify.NewDispatcher(log, notifyOpts)
	deps.Notifier = dispatcher

	deps.Exporter = export.NewService(cfg.ChromePath, 0)

	if cfg.DevAuthEnabled {
		deps.Passwords = authpw.NewService(dataStore, cfg.JWTSecret, cfg.AccessTTL)
		log.Warn("password sign-in enabled; disable DEV_AUTH_ENABLED when an identity provider issues tokens")
	}

	service := app.New(cfg, log, deps)
	httpServer := app.NewHTTPServer(service, log, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("EurobanSync API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			log.Warn("notification delivery still running at exit", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
