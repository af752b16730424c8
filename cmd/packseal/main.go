// main.go — Packseal API server entrypoint.
// Serves the access gateway (POST /access) and upload intake
// (POST /upload, /upload-url, /confirm-upload, GET /status) plus
// /health and /metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/packseal/packseal/internal/blobstore"
	"github.com/packseal/packseal/internal/config"
	"github.com/packseal/packseal/internal/gateway"
	"github.com/packseal/packseal/internal/index"
	"github.com/packseal/packseal/internal/intake"
	"github.com/packseal/packseal/internal/logger"
	"github.com/packseal/packseal/internal/metrics"
	"github.com/packseal/packseal/internal/telemetry"
	"github.com/packseal/packseal/internal/token"
	"github.com/packseal/packseal/internal/watermark"
)

const service = "packseal"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("text", "info").WithError(err).Fatal("configuration")
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	if err := telemetry.InitSentry(cfg.SentryDSN, service, cfg.Env); err != nil {
		log.WithError(err).Warn("sentry init failed, continuing without error tracking")
	}
	defer telemetry.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := index.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		log.WithError(err).Fatal("content index connection")
	}
	defer db.Close()
	idx := index.NewPG(db)

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:  cfg.StoreEndpoint,
		AccessKey: cfg.StoreAccessKey,
		SecretKey: cfg.StoreSecretKey,
		Bucket:    cfg.StoreBucket,
		UseSSL:    cfg.StoreUseSSL,
	})
	if err != nil {
		log.WithError(err).Fatal("object store connection")
	}

	events := index.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer events.Close()

	engine := watermark.New(watermark.Config{
		Domain:      cfg.ProfileDomain,
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		TempDir:     cfg.TempDir,
		BakeTimeout: cfg.BakeTimeout,
	}, log)

	tokens := token.NewService(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL)
	gw := gateway.New(tokens, idx, blobs, engine, cfg.SignedURLTTL, log)
	identity := intake.NewJWTIdentity(cfg.TokenSecret, cfg.TokenIssuer)
	publicBase := "https://" + cfg.ProfileDomain + "/media"
	up := intake.New(blobs, idx, events, identity, cfg.MaxUploadBytes, publicBase, cfg.TempDir, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.PanicRecoveryMiddleware(service))
	r.Use(func(next http.Handler) http.Handler { return metrics.Middleware(service, next) })

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"` + service + `"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	gw.Register(r)
	up.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("packseal api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown")
	}
}
