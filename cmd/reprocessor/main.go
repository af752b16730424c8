// main.go — Packseal reprocessor entrypoint.
// Consumes content-index change events from Kafka and drives the one-time
// vendor watermark bake for newly uploaded videos. Offsets are committed
// only after an event has been handled, so a crash mid-batch replays the
// event; the processed flag on each index entry keeps the replay idempotent.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packseal/packseal/internal/blobstore"
	"github.com/packseal/packseal/internal/config"
	"github.com/packseal/packseal/internal/index"
	"github.com/packseal/packseal/internal/logger"
	"github.com/packseal/packseal/internal/metrics"
	"github.com/packseal/packseal/internal/reprocess"
	"github.com/packseal/packseal/internal/telemetry"
	"github.com/packseal/packseal/internal/watermark"
)

const service = "reprocessor"

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

	engine := watermark.New(watermark.Config{
		Domain:      cfg.ProfileDomain,
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		TempDir:     cfg.TempDir,
		BakeTimeout: cfg.BakeTimeout,
	}, log)

	runner := reprocess.New(blobs, idx, engine, cfg.TempDir, log)

	consumer := index.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	// Metrics-only HTTP listener; the reprocessor has no API surface.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok","service":"` + service + `"}`))
		})
		srv := &http.Server{Addr: ":" + cfg.ReprocessorPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics listener")
		}
	}()

	log.WithField("topic", cfg.KafkaTopic).Info("reprocessor consuming change events")
	for {
		ev, msg, err := consumer.Fetch(ctx)
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			log.WithError(err).Error("fetch change event")
			telemetry.CaptureError(err, map[string]string{"stage": "fetch"})
			// A message that cannot be decoded will never decode; commit it
			// so it does not wedge the partition.
			if len(msg.Value) > 0 {
				if cerr := consumer.Commit(ctx, msg); cerr != nil {
					log.WithError(cerr).Error("commit malformed event")
				}
			}
			continue
		}

		sum := runner.Run(ctx, ev)
		if sum.Failed > 0 {
			telemetry.CaptureError(
				errors.New("reprocess batch had failures"),
				map[string]string{"pack_id": sum.PackID},
			)
		}

		if err := consumer.Commit(ctx, msg); err != nil {
			log.WithError(err).Error("commit offset")
		}
	}
	log.Info("reprocessor stopped")
}
