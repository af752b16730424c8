// reprocess.go — the reprocessing trigger: reacts to content-index change
// events, finds freshly added unprocessed videos, and bakes the vendor
// watermark into each one, overwriting the stored object in place.
//
// The index document itself is never restructured here. The catalog system
// owns the list; this component only flips processed/processingError on
// individual entries while the bytes behind a stable key silently improve.
package reprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packseal/packseal/internal/blobstore"
	"github.com/packseal/packseal/internal/index"
	"github.com/packseal/packseal/internal/metrics"
	"github.com/packseal/packseal/internal/watermark"
)

// Runner drives vendor bakes for one change event at a time.
type Runner struct {
	blobs   blobstore.Store
	idx     index.Store
	engine  *watermark.Engine
	tempDir string
	log     *logrus.Logger
}

// New wires a Runner. tempDir may be empty to use the system default.
func New(blobs blobstore.Store, idx index.Store, engine *watermark.Engine, tempDir string, log *logrus.Logger) *Runner {
	return &Runner{blobs: blobs, idx: idx, engine: engine, tempDir: tempDir, log: log}
}

// Summary aggregates per-item outcomes for one change event.
type Summary struct {
	PackID    string
	Total     int
	Succeeded int
	Failed    int
}

// Candidates diffs the after snapshot against the before snapshot
// positionally and returns the entries that need a vendor bake: video
// entries whose key was not at the same position before (a true insertion,
// not an edit in place) and that have not been processed yet. The explicit
// processed flag is the loop guard; the bake never changes the key, so
// without it every event would re-trigger every video.
func Candidates(before, after []index.ContentItem) []index.ContentItem {
	var out []index.ContentItem
	for i, it := range after {
		if !it.IsVideo() || it.Processed {
			continue
		}
		if i < len(before) && before[i].Key == it.Key {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Run processes one change event: every candidate gets its own goroutine
// and runs to completion or failure independently. One stuck or broken
// video never aborts its siblings; the per-item subprocess timeout inside
// the engine bounds how long a stuck one can hold its goroutine.
func (r *Runner) Run(ctx context.Context, ev index.ChangeEvent) Summary {
	cands := Candidates(ev.Before, ev.After)
	sum := Summary{PackID: ev.PackID, Total: len(cands)}
	if len(cands) == 0 {
		metrics.BakeOps.WithLabelValues("skipped").Inc()
		r.log.WithField("pack_id", ev.PackID).Debug("change event has no bake candidates")
		return sum
	}

	errs := make([]error, len(cands))
	var wg sync.WaitGroup
	for i, item := range cands {
		wg.Add(1)
		go func(i int, item index.ContentItem) {
			defer wg.Done()
			errs[i] = r.bakeOne(ctx, ev.PackID, item)
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			sum.Failed++
			r.log.WithError(err).WithFields(logrus.Fields{
				"pack_id": ev.PackID,
				"key":     cands[i].Key,
			}).Error("vendor bake failed")
		} else {
			sum.Succeeded++
		}
	}
	r.log.WithFields(logrus.Fields{
		"pack_id":   sum.PackID,
		"total":     sum.Total,
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
	}).Info("reprocess batch complete")
	return sum
}

// bakeOne runs the full pipeline for a single video: download, bake with
// the vendor identity only (the buyer is unknown at bake time), upload back
// to the same key, mark processed. Any failure leaves the stored bytes
// untouched and records the reason on the index entry so an operator can
// retrigger the bake.
func (r *Runner) bakeOne(ctx context.Context, packID string, item index.ContentItem) error {
	start := time.Now()

	data, _, err := r.blobs.Get(ctx, item.Key)
	if err != nil {
		return r.fail(ctx, packID, item.Key, "failed", fmt.Errorf("download %q: %w", item.Key, err))
	}

	scratch, err := os.MkdirTemp(r.tempDir, "packseal-reprocess-")
	if err != nil {
		return r.fail(ctx, packID, item.Key, "failed", fmt.Errorf("scratch dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			r.log.WithError(err).WithField("dir", scratch).Warn("scratch cleanup failed")
		}
	}()

	in := filepath.Join(scratch, "input.mp4")
	out := filepath.Join(scratch, "output.mp4")
	if err := os.WriteFile(in, data, 0600); err != nil {
		return r.fail(ctx, packID, item.Key, "failed", fmt.Errorf("stage input: %w", err))
	}

	if err := r.engine.BakeVideo(ctx, in, out, "", item.VendorUsername); err != nil {
		outcome := "failed"
		if errors.Is(err, watermark.ErrTimeout) {
			outcome = "timeout"
		}
		return r.fail(ctx, packID, item.Key, outcome, err)
	}

	baked, err := os.ReadFile(out)
	if err != nil {
		return r.fail(ctx, packID, item.Key, "failed", fmt.Errorf("read baked output: %w", err))
	}
	if err := r.blobs.Put(ctx, item.Key, baked, "video/mp4"); err != nil {
		return r.fail(ctx, packID, item.Key, "failed", fmt.Errorf("upload %q: %w", item.Key, err))
	}

	if err := r.idx.MarkProcessed(ctx, packID, item.Key); err != nil {
		// The bytes are already baked; surface the index failure but do not
		// undo the upload.
		return fmt.Errorf("mark processed %q: %w", item.Key, err)
	}

	metrics.BakeOps.WithLabelValues("ok").Inc()
	metrics.WatermarkDuration.WithLabelValues("video").Observe(time.Since(start).Seconds())
	r.log.WithFields(logrus.Fields{
		"pack_id":  packID,
		"key":      item.Key,
		"size_in":  len(data),
		"size_out": len(baked),
		"took":     time.Since(start).Round(time.Millisecond).String(),
	}).Info("vendor bake complete")
	return nil
}

// fail records the outcome on the index entry and in metrics. The marker
// write is best effort: if it fails too, the bake error still wins.
func (r *Runner) fail(ctx context.Context, packID, key, outcome string, err error) error {
	metrics.BakeOps.WithLabelValues(outcome).Inc()
	if markErr := r.idx.MarkFailed(ctx, packID, key, err.Error()); markErr != nil {
		r.log.WithError(markErr).WithFields(logrus.Fields{
			"pack_id": packID,
			"key":     key,
		}).Warn("could not record bake failure on index entry")
	}
	return err
}
