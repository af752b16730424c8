// intake.go — upload intake: how new media enters the system.
//
// Routes:
//
//	POST /upload         — proxied multipart upload, field "video"
//	POST /upload-url     — presigned direct-to-store PUT URL
//	POST /confirm-upload — HEAD-checked index registration after direct upload
//	GET  /status         — per-pack processing progress
//
// Both upload flows converge on the same index-entry shape (processed=false,
// deterministic key) so the reprocessor treats them identically, and both
// end by publishing a content-index change event.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/packseal/packseal/internal/blobstore"
	"github.com/packseal/packseal/internal/index"
	"github.com/packseal/packseal/internal/metrics"
	"github.com/packseal/packseal/internal/validate"
)

// presigned PUT lifetime bounds, seconds
const (
	minPresignTTL     = 60
	maxPresignTTL     = 86400
	defaultPresignTTL = 900
)

// multipartOverhead is body-cap headroom for multipart boundaries, part
// headers and the packId field, so the cap never fires before the per-file
// size check does.
const multipartOverhead = 1 << 20

// Intake handles media uploads and pack status queries.
type Intake struct {
	blobs      blobstore.Store
	idx        index.Store
	events     index.Publisher
	identity   Identity
	maxUpload  int64
	publicBase string
	tempDir    string
	log        *logrus.Logger
}

// New wires an Intake. publicBase is the URL prefix under which stored
// objects become publicly addressable once access is granted.
func New(blobs blobstore.Store, idx index.Store, events index.Publisher, identity Identity,
	maxUpload int64, publicBase, tempDir string, log *logrus.Logger) *Intake {
	return &Intake{
		blobs: blobs, idx: idx, events: events, identity: identity,
		maxUpload: maxUpload, publicBase: strings.TrimSuffix(publicBase, "/"),
		tempDir: tempDir, log: log,
	}
}

// Register mounts the intake endpoints on an existing router.
func (in *Intake) Register(r chi.Router) {
	r.Post("/upload", in.handleUpload)
	r.Post("/upload-url", in.handleUploadURL)
	r.Post("/confirm-upload", in.handleConfirm)
	r.Get("/status", in.handleStatus)
}

// Routes returns the intake endpoints on a fresh router.
func (in *Intake) Routes() chi.Router {
	r := chi.NewRouter()
	in.Register(r)
	return r
}

// ── Proxied upload ────────────────────────────────────────────────────────────

// handleUpload accepts a multipart upload, buffers it to a local temp file
// with the size ceiling enforced, then pushes it to the store and registers
// the index entry.
func (in *Intake) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := in.verifyUploader(w, r)
	if !ok {
		return
	}

	// Cap the request body with headroom for multipart boundaries and part
	// headers; the per-file LimitReader copy below is the authoritative
	// ceiling, so a file of exactly maxUpload bytes still fits.
	r.Body = http.MaxBytesReader(w, r.Body, in.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.Uploads.WithLabelValues("proxied", "too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "too_large",
				fmt.Sprintf("upload exceeds the %d byte limit", in.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	packID := r.FormValue("packId")
	if err := validate.IsAlphanumericSlug("packId", packID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", `multipart field "video" is required`)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if err := validate.NoPathTraversal("filename", name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	tmp, err := os.CreateTemp(in.tempDir, "packseal-upload-")
	if err != nil {
		in.log.WithError(err).Error("temp file for upload buffer")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not buffer upload")
		return
	}
	defer func() {
		tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			in.log.WithError(rmErr).WithField("path", tmp.Name()).Warn("upload buffer cleanup failed")
		}
	}()

	size, err := io.Copy(tmp, io.LimitReader(file, in.maxUpload+1))
	if err != nil {
		in.log.WithError(err).Error("buffering upload")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not buffer upload")
		return
	}
	if size > in.maxUpload {
		metrics.Uploads.WithLabelValues("proxied", "too_large").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Sprintf("upload exceeds the %d byte limit", in.maxUpload))
		return
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		in.log.WithError(err).Error("reading upload buffer")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not read upload")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	key := objectKey(packID, name, time.Now())
	if err := in.blobs.Put(r.Context(), key, data, contentType); err != nil {
		metrics.Uploads.WithLabelValues("proxied", "error").Inc()
		in.log.WithError(err).WithField("key", key).Error("store put failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not store upload")
		return
	}

	item := index.ContentItem{
		Key:            key,
		Name:           name,
		MimeType:       contentType,
		SizeBytes:      size,
		Kind:           kindFor(contentType),
		Processed:      false,
		UploadedAt:     time.Now().UTC(),
		VendorID:       user.ID,
		VendorUsername: user.Username,
	}
	if !in.register(r.Context(), w, packID, item, "proxied") {
		return
	}

	metrics.Uploads.WithLabelValues("proxied", "ok").Inc()
	writeJSON(w, http.StatusOK, uploadResponse{
		Key: key, Size: size, Type: contentType, Processed: false,
	})
}

// ── Direct-to-store upload ────────────────────────────────────────────────────

type uploadURLRequest struct {
	PackID       string `json:"packId"`
	ContentType  string `json:"contentType"`
	OriginalName string `json:"originalName"`
	ExpiresIn    int    `json:"expiresIn"` // seconds
}

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
}

// handleUploadURL issues a short-lived presigned PUT scoped to a
// deterministic key, with the uploader identity pinned in object metadata.
func (in *Intake) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	user, ok := in.verifyUploader(w, r)
	if !ok {
		return
	}

	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	errs := &validate.MultiError{}
	errs.Add(validate.IsAlphanumericSlug("packId", req.PackID))
	errs.Add(validate.NonEmptyString("contentType", req.ContentType))
	errs.Add(validate.NonEmptyString("originalName", req.OriginalName))
	errs.Add(validate.NoPathTraversal("originalName", req.OriginalName))
	if errs.HasErrors() {
		writeError(w, http.StatusBadRequest, "invalid_request", errs.Error())
		return
	}

	ttl := req.ExpiresIn
	if ttl == 0 {
		ttl = defaultPresignTTL
	}
	if err := validate.IntInRange("expiresIn", ttl, minPresignTTL, maxPresignTTL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	key := objectKey(req.PackID, filepath.Base(req.OriginalName), time.Now())
	metadata := map[string]string{
		"uploader-id":       user.ID,
		"uploader-username": user.Username,
		"pack-id":           req.PackID,
	}
	url, err := in.blobs.PresignPut(r.Context(), key, req.ContentType, metadata, time.Duration(ttl)*time.Second)
	if err != nil {
		metrics.Uploads.WithLabelValues("direct", "error").Inc()
		in.log.WithError(err).WithField("key", key).Error("presign put failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not generate upload URL")
		return
	}

	writeJSON(w, http.StatusOK, uploadURLResponse{
		UploadURL: url,
		Key:       key,
		PublicURL: in.publicBase + "/" + key,
	})
}

type confirmRequest struct {
	PackID       string `json:"packId"`
	Key          string `json:"key"`
	OriginalName string `json:"originalName"`
}

type uploadResponse struct {
	Key       string `json:"key"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	Processed bool   `json:"processed"`
}

// handleConfirm verifies a direct upload actually landed in the store
// before writing the index entry. No object, no entry.
func (in *Intake) handleConfirm(w http.ResponseWriter, r *http.Request) {
	user, ok := in.verifyUploader(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	errs := &validate.MultiError{}
	errs.Add(validate.IsAlphanumericSlug("packId", req.PackID))
	errs.Add(validate.NonEmptyString("key", req.Key))
	errs.Add(validate.NonEmptyString("originalName", req.OriginalName))
	if errs.HasErrors() {
		writeError(w, http.StatusBadRequest, "invalid_request", errs.Error())
		return
	}

	info, err := in.blobs.Head(r.Context(), req.Key)
	if errors.Is(err, blobstore.ErrNotFound) {
		metrics.Uploads.WithLabelValues("direct", "missing").Inc()
		writeError(w, http.StatusNotFound, "not_found", "uploaded object not found in store")
		return
	}
	if err != nil {
		in.log.WithError(err).WithField("key", req.Key).Error("store head failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not verify upload")
		return
	}

	item := index.ContentItem{
		Key:            req.Key,
		Name:           filepath.Base(req.OriginalName),
		MimeType:       info.ContentType,
		SizeBytes:      info.Size,
		Kind:           kindFor(info.ContentType),
		Processed:      false,
		UploadedAt:     time.Now().UTC(),
		VendorID:       user.ID,
		VendorUsername: user.Username,
	}
	if !in.register(r.Context(), w, req.PackID, item, "direct") {
		return
	}

	metrics.Uploads.WithLabelValues("direct", "ok").Inc()
	writeJSON(w, http.StatusOK, uploadResponse{
		Key: req.Key, Size: info.Size, Type: info.ContentType, Processed: false,
	})
}

// ── Status ────────────────────────────────────────────────────────────────────

type statusResponse struct {
	OverallStatus overallStatus       `json:"overallStatus"`
	Videos        []index.ContentItem `json:"videos"`
}

type overallStatus struct {
	Total     int     `json:"total"`
	Processed int     `json:"processed"`
	Pending   int     `json:"pending"`
	Errors    int     `json:"errors"`
	Progress  float64 `json:"progress"`
}

// handleStatus reports per-pack video processing progress.
func (in *Intake) handleStatus(w http.ResponseWriter, r *http.Request) {
	packID := r.URL.Query().Get("packId")
	if err := validate.IsAlphanumericSlug("packId", packID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	items, err := in.idx.Pack(r.Context(), packID)
	if errors.Is(err, index.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "pack not found")
		return
	}
	if err != nil {
		in.log.WithError(err).WithField("pack_id", packID).Error("pack lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load pack status")
		return
	}

	videos := make([]index.ContentItem, 0)
	var status overallStatus
	for _, it := range items {
		if !it.IsVideo() {
			continue
		}
		videos = append(videos, it)
		status.Total++
		switch {
		case it.Processed:
			status.Processed++
		case it.ProcessingError != "":
			status.Errors++
		default:
			status.Pending++
		}
	}
	if status.Total > 0 {
		status.Progress = float64(status.Processed) / float64(status.Total) * 100
	}

	writeJSON(w, http.StatusOK, statusResponse{OverallStatus: status, Videos: videos})
}

// ── Shared pieces ─────────────────────────────────────────────────────────────

// register appends the index entry and publishes a before/after change
// event. Returns false after writing the error response itself.
func (in *Intake) register(ctx context.Context, w http.ResponseWriter, packID string, item index.ContentItem, flow string) bool {
	before, err := in.idx.Pack(ctx, packID)
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		in.log.WithError(err).WithField("pack_id", packID).Error("pack snapshot failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record upload")
		return false
	}

	if err := in.idx.AppendItem(ctx, packID, item); err != nil {
		metrics.Uploads.WithLabelValues(flow, "error").Inc()
		in.log.WithError(err).WithField("key", item.Key).Error("index append failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record upload")
		return false
	}

	after, err := in.idx.Pack(ctx, packID)
	if err != nil {
		in.log.WithError(err).WithField("pack_id", packID).Error("pack snapshot failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record upload")
		return false
	}

	ev := index.ChangeEvent{PackID: packID, Before: before, After: after, OccurredAt: time.Now().UTC()}
	if err := in.events.Publish(ctx, ev); err != nil {
		// The entry is recorded; a lost event only delays the bake until
		// the next index change. Log loudly rather than failing the upload.
		in.log.WithError(err).WithField("pack_id", packID).Error("change event publish failed")
	}
	return true
}

func (in *Intake) verifyUploader(w http.ResponseWriter, r *http.Request) (User, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return User{}, false
	}
	user, err := in.identity.VerifyUser(r.Context(), strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return User{}, false
	}
	return user, true
}

// objectKey builds the deterministic storage key for an upload. The
// timestamp prefix keeps same-named re-uploads from colliding.
func objectKey(packID, name string, now time.Time) string {
	return fmt.Sprintf("packs/%s/videos/%d_%s", packID, now.UnixMilli(), sanitizeName(name))
}

// sanitizeName keeps object keys predictable: anything outside the safe
// set collapses to '_'.
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' {
			sb.WriteRune(c)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// kindFor maps a MIME type to the index kind.
func kindFor(contentType string) index.Kind {
	switch {
	case strings.HasPrefix(contentType, "video/"):
		return index.KindVideo
	case strings.HasPrefix(contentType, "image/"):
		return index.KindImage
	default:
		return index.KindSample
	}
}

// ── Response helpers ──────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
