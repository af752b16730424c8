package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packseal/packseal/internal/blobstore"
	"github.com/packseal/packseal/internal/index"
)

func testIntake(t *testing.T, blobs blobstore.Store, idx index.Store, events index.Publisher, maxUpload int64) *Intake {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	identity := &FakeIdentity{Users: map[string]User{
		"vendor-token": {ID: "vendor-1", Username: "bob"},
	}}
	return New(blobs, idx, events, identity, maxUpload, "https://cdn.packseal.io", t.TempDir(), log)
}

// multipartBody builds a video upload request body.
func multipartBody(t *testing.T, packID, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("packId", packID); err != nil {
		t.Fatal(err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="video"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func authed(r *http.Request) *http.Request {
	r.Header.Set("Authorization", "Bearer vendor-token")
	return r
}

func TestEndpointsRequireAuth(t *testing.T) {
	in := testIntake(t, blobstore.NewFake(), index.NewFakeStore(), index.NewFakePublisher(), 1<<20)
	router := in.Routes()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/upload"},
		{http.MethodPost, "/upload-url"},
		{http.MethodPost, "/confirm-upload"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func TestProxiedUpload(t *testing.T) {
	blobs := blobstore.NewFake()
	idx := index.NewFakeStore()
	events := index.NewFakePublisher()
	in := testIntake(t, blobs, idx, events, 1<<20)

	body, contentType := multipartBody(t, "pack1", "my clip.mp4", "video/mp4", []byte("fake video bytes"))
	r := authed(httptest.NewRequest(http.MethodPost, "/upload", body))
	r.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Key, "packs/pack1/videos/") || !strings.HasSuffix(resp.Key, "_my_clip.mp4") {
		t.Errorf("key: %q", resp.Key)
	}
	if resp.Processed {
		t.Error("fresh upload must report processed=false")
	}
	if resp.Size != int64(len("fake video bytes")) {
		t.Errorf("size: %d", resp.Size)
	}

	stored, storedType, err := blobs.Get(context.Background(), resp.Key)
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != "fake video bytes" || storedType != "video/mp4" {
		t.Errorf("stored object: %q type %q", stored, storedType)
	}

	it, err := idx.Item(context.Background(), "pack1", resp.Key)
	if err != nil {
		t.Fatal(err)
	}
	if it.Kind != index.KindVideo || it.Processed || it.VendorUsername != "bob" {
		t.Errorf("index entry: %+v", it)
	}

	if events.Count() != 1 {
		t.Fatalf("events published: %d", events.Count())
	}
	ev := events.Events[0]
	if ev.PackID != "pack1" || len(ev.Before) != 0 || len(ev.After) != 1 {
		t.Errorf("event snapshots: before=%d after=%d", len(ev.Before), len(ev.After))
	}
}

func TestProxiedUploadTooLarge(t *testing.T) {
	blobs := blobstore.NewFake()
	events := index.NewFakePublisher()
	in := testIntake(t, blobs, index.NewFakeStore(), events, 64)

	body, contentType := multipartBody(t, "pack1", "big.mp4", "video/mp4", bytes.Repeat([]byte("x"), 1024))
	r := authed(httptest.NewRequest(http.MethodPost, "/upload", body))
	r.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: %d, want 413", rec.Code)
	}
	if events.Count() != 0 {
		t.Error("rejected upload must not publish an event")
	}
}

func TestProxiedUploadAtLimit(t *testing.T) {
	blobs := blobstore.NewFake()
	events := index.NewFakePublisher()
	in := testIntake(t, blobs, index.NewFakeStore(), events, 64)

	// A file of exactly the ceiling must go through even though the
	// multipart envelope around it is bigger than the ceiling.
	body, contentType := multipartBody(t, "pack1", "exact.mp4", "video/mp4", bytes.Repeat([]byte("x"), 64))
	r := authed(httptest.NewRequest(http.MethodPost, "/upload", body))
	r.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Size != 64 {
		t.Errorf("size: %d", resp.Size)
	}

	// One byte over is still rejected.
	body, contentType = multipartBody(t, "pack1", "over.mp4", "video/mp4", bytes.Repeat([]byte("x"), 65))
	r = authed(httptest.NewRequest(http.MethodPost, "/upload", body))
	r.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: %d, want 413", rec.Code)
	}
}

func TestProxiedUploadBadPackID(t *testing.T) {
	in := testIntake(t, blobstore.NewFake(), index.NewFakeStore(), index.NewFakePublisher(), 1<<20)

	body, contentType := multipartBody(t, "../escape", "a.mp4", "video/mp4", []byte("x"))
	r := authed(httptest.NewRequest(http.MethodPost, "/upload", body))
	r.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", rec.Code)
	}
}

func TestUploadURL(t *testing.T) {
	in := testIntake(t, blobstore.NewFake(), index.NewFakeStore(), index.NewFakePublisher(), 1<<20)

	body, _ := json.Marshal(map[string]any{
		"packId": "pack1", "contentType": "video/mp4",
		"originalName": "clip.mp4", "expiresIn": 600,
	})
	r := authed(httptest.NewRequest(http.MethodPost, "/upload-url", bytes.NewReader(body)))
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp uploadURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Key, "packs/pack1/videos/") {
		t.Errorf("key: %q", resp.Key)
	}
	if !strings.Contains(resp.UploadURL, resp.Key) {
		t.Errorf("upload URL should carry the key: %q", resp.UploadURL)
	}
	if resp.PublicURL != "https://cdn.packseal.io/"+resp.Key {
		t.Errorf("public URL: %q", resp.PublicURL)
	}
}

func TestUploadURLBoundsExpiry(t *testing.T) {
	in := testIntake(t, blobstore.NewFake(), index.NewFakeStore(), index.NewFakePublisher(), 1<<20)

	body, _ := json.Marshal(map[string]any{
		"packId": "pack1", "contentType": "video/mp4",
		"originalName": "clip.mp4", "expiresIn": 999999,
	})
	r := authed(httptest.NewRequest(http.MethodPost, "/upload-url", bytes.NewReader(body)))
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", rec.Code)
	}
}

func TestConfirmUpload(t *testing.T) {
	blobs := blobstore.NewFake()
	idx := index.NewFakeStore()
	events := index.NewFakePublisher()
	in := testIntake(t, blobs, idx, events, 1<<20)

	key := "packs/pack1/videos/123_clip.mp4"
	if err := blobs.Put(context.Background(), key, []byte("direct upload"), "video/mp4"); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]string{
		"packId": "pack1", "key": key, "originalName": "clip.mp4",
	})
	r := authed(httptest.NewRequest(http.MethodPost, "/confirm-upload", bytes.NewReader(body)))
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Key != key || resp.Size != int64(len("direct upload")) || resp.Processed {
		t.Errorf("response: %+v", resp)
	}
	if _, err := idx.Item(context.Background(), "pack1", key); err != nil {
		t.Errorf("index entry missing: %v", err)
	}
	if events.Count() != 1 {
		t.Errorf("events published: %d", events.Count())
	}
}

func TestConfirmUploadMissingObject(t *testing.T) {
	idx := index.NewFakeStore()
	events := index.NewFakePublisher()
	in := testIntake(t, blobstore.NewFake(), idx, events, 1<<20)

	body, _ := json.Marshal(map[string]string{
		"packId": "pack1", "key": "packs/pack1/videos/123_ghost.mp4", "originalName": "ghost.mp4",
	})
	r := authed(httptest.NewRequest(http.MethodPost, "/confirm-upload", bytes.NewReader(body)))
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d, want 404", rec.Code)
	}
	if _, err := idx.Pack(context.Background(), "pack1"); err == nil {
		t.Error("no index entry may be created for a missing object")
	}
	if events.Count() != 0 {
		t.Error("no event may be published for a missing object")
	}
}

func TestStatus(t *testing.T) {
	idx := index.NewFakeStore()
	now := time.Now()
	idx.Seed("pack1",
		index.ContentItem{Key: "v1", Kind: index.KindVideo, Processed: true, UploadedAt: now},
		index.ContentItem{Key: "v2", Kind: index.KindVideo, UploadedAt: now},
		index.ContentItem{Key: "v3", Kind: index.KindVideo, ProcessingError: "transcode failed", UploadedAt: now},
		index.ContentItem{Key: "pic", Kind: index.KindImage, UploadedAt: now},
	)
	in := testIntake(t, blobstore.NewFake(), idx, index.NewFakePublisher(), 1<<20)

	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?packId=pack1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	want := overallStatus{Total: 3, Processed: 1, Pending: 1, Errors: 1}
	got := resp.OverallStatus
	if got.Total != want.Total || got.Processed != want.Processed ||
		got.Pending != want.Pending || got.Errors != want.Errors {
		t.Errorf("overall status: %+v", got)
	}
	if got.Progress < 33.3 || got.Progress > 33.4 {
		t.Errorf("progress: %v", got.Progress)
	}
	if len(resp.Videos) != 3 {
		t.Errorf("videos: %d entries", len(resp.Videos))
	}
}

func TestStatusUnknownPack(t *testing.T) {
	in := testIntake(t, blobstore.NewFake(), index.NewFakeStore(), index.NewFakePublisher(), 1<<20)
	rec := httptest.NewRecorder()
	in.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?packId=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d, want 404", rec.Code)
	}
}

func TestObjectKeySanitization(t *testing.T) {
	key := objectKey("pack1", "weird name$%.mp4", time.UnixMilli(42))
	if key != "packs/pack1/videos/42_weird_name__.mp4" {
		t.Errorf("key: %q", key)
	}
}
