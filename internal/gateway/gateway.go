// gateway.go — the access gateway: the single HTTP entry point through
// which protected media leaves the system.
//
// Routes:
//
//	POST /access — bearer AccessToken + {packId, contentKey} body.
//	              Video: a time-limited signed URL to the pre-baked object.
//	              Image: a freshly buyer-stamped copy, streamed back.
//
// Every request walks the same ladder: verify token, check claims, resolve
// the content item, then branch on kind. Nothing is served without a valid
// capability, and file paths or store credentials never appear in error
// bodies.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/packseal/packseal/internal/blobstore"
	"github.com/packseal/packseal/internal/index"
	"github.com/packseal/packseal/internal/metrics"
	"github.com/packseal/packseal/internal/token"
	"github.com/packseal/packseal/internal/watermark"
)

// Gateway serves protected media behind access tokens.
type Gateway struct {
	tokens    *token.Service
	idx       index.Store
	blobs     blobstore.Store
	engine    *watermark.Engine
	signedTTL time.Duration
	log       *logrus.Logger
}

// New wires a Gateway. signedTTL bounds how long a video signed URL stays
// valid.
func New(tokens *token.Service, idx index.Store, blobs blobstore.Store, engine *watermark.Engine, signedTTL time.Duration, log *logrus.Logger) *Gateway {
	return &Gateway{tokens: tokens, idx: idx, blobs: blobs, engine: engine, signedTTL: signedTTL, log: log}
}

// Register mounts the gateway endpoints on an existing router.
func (g *Gateway) Register(r chi.Router) {
	r.Post("/access", g.handleAccess)
}

// Routes returns the gateway endpoints on a fresh router.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	g.Register(r)
	return r
}

type accessRequest struct {
	PackID     string `json:"packId"`
	ContentKey string `json:"contentKey"`
}

type videoResponse struct {
	Type      string `json:"type"`
	SignedURL string `json:"signedUrl"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
	ExpiresIn int64  `json:"expiresIn"`
	Watermark string `json:"watermark"`
}

// handleAccess drives the per-request state machine: token, claims,
// content, then the video or image path.
func (g *Gateway) handleAccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := g.verifyBearer(w, r)
	if !ok {
		return
	}

	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if req.PackID == "" || req.ContentKey == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "packId and contentKey are required")
		return
	}
	if claims.ContentKey != req.ContentKey {
		writeError(w, http.StatusBadRequest, "invalid_request", "token does not cover the requested content")
		return
	}

	item, err := g.idx.Item(r.Context(), req.PackID, req.ContentKey)
	if errors.Is(err, index.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "content not found")
		return
	}
	if err != nil {
		g.log.WithError(err).WithField("pack_id", req.PackID).Error("content lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not resolve content")
		return
	}

	if item.IsVideo() {
		g.serveVideo(w, r, item)
		return
	}
	g.serveImage(w, r, item, claims)
}

// verifyBearer extracts and verifies the access token. On failure it writes
// the 401 itself and returns ok=false.
func (g *Gateway) verifyBearer(w http.ResponseWriter, r *http.Request) (*token.Claims, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	claims, err := g.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
	if errors.Is(err, token.ErrExpired) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "token expired")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return nil, false
	}
	if claims.ContentKey == "" || claims.BuyerUsername == "" || claims.VendorUsername == "" ||
		claims.BuyerID == "" || claims.VendorID == "" || claims.OrderID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token claims incomplete")
		return nil, false
	}
	return claims, true
}

// serveVideo hands out a signed URL to the pre-baked object. The vendor
// watermark was burned in by the reprocessor before the item became
// servable; no per-request transformation happens here.
func (g *Gateway) serveVideo(w http.ResponseWriter, r *http.Request, item index.ContentItem) {
	url, err := g.blobs.PresignGet(r.Context(), item.Key, g.signedTTL)
	if err != nil {
		g.log.WithError(err).WithField("key", item.Key).Error("presign failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not generate access URL")
		return
	}
	writeJSON(w, http.StatusOK, videoResponse{
		Type:      "video",
		SignedURL: url,
		Name:      item.Name,
		MimeType:  item.MimeType,
		SizeBytes: item.SizeBytes,
		ExpiresIn: int64(g.signedTTL.Seconds()),
		Watermark: "vendor", // mark baked into the object by the reprocessor
	})
}

// serveImage fetches the original bytes and stamps them with the buyer's
// identity per request, so every buyer receives a uniquely marked copy.
// Animated rasters go through the video bake instead of the static stamp.
// A watermark failure degrades to the unmodified original; only store
// failures are 500s.
func (g *Gateway) serveImage(w http.ResponseWriter, r *http.Request, item index.ContentItem, claims *token.Claims) {
	data, contentType, err := g.blobs.Get(r.Context(), item.Key)
	if errors.Is(err, blobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "content not found")
		return
	}
	if err != nil {
		g.log.WithError(err).WithField("key", item.Key).Error("content fetch failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "could not fetch content")
		return
	}

	start := time.Now()
	if watermark.IsAnimated(data) {
		baked, bakeErr := g.engine.StampVideoBytes(r.Context(), data, claims.BuyerUsername, claims.VendorUsername)
		if bakeErr != nil {
			g.log.WithError(bakeErr).WithField("key", item.Key).Warn("animated stamp failed, serving original")
			metrics.WatermarkOps.WithLabelValues("video", "fallback").Inc()
			serveBytes(w, data, contentType)
			return
		}
		metrics.WatermarkOps.WithLabelValues("video", "ok").Inc()
		metrics.WatermarkDuration.WithLabelValues("video").Observe(time.Since(start).Seconds())
		serveBytes(w, baked, "video/mp4")
		return
	}

	stamped, stampedType, stampErr := g.engine.StampImage(data, claims.BuyerUsername, claims.VendorUsername)
	if stampErr != nil {
		// StampImage already returned the original bytes; record the
		// fallback and keep serving, with the stored object's content type
		// rather than whatever the failed decode sniffed.
		g.log.WithError(stampErr).WithField("key", item.Key).Warn("image stamp failed, serving original")
		metrics.WatermarkOps.WithLabelValues("image", "fallback").Inc()
		serveBytes(w, data, contentType)
		return
	}
	metrics.WatermarkOps.WithLabelValues("image", "ok").Inc()
	metrics.WatermarkDuration.WithLabelValues("image").Observe(time.Since(start).Seconds())
	serveBytes(w, stamped, stampedType)
}

// serveBytes streams media with caching disabled. Stamped copies are
// per-buyer and must never land in a shared cache.
func serveBytes(w http.ResponseWriter, data []byte, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
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
