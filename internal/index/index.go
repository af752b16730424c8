// Package index reads the content index (the ordered list of media items
// attached to a pack) and performs the narrow, idempotent field updates this
// core is allowed: appending a fresh entry at intake and flipping
// processed/processing_error after a bake.
//
// The index is owned by the surrounding catalog system. Nothing here ever
// rewrites the list structure or reorders entries; reprocessing changes the
// bytes behind a key, never the key or the entry's position.
package index

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Schema is the pack_content DDL. Applied by cmd/seed in development;
// production migrations are managed outside this repo.
//
//go:embed schema.sql
var Schema string

// ErrNotFound is returned when a pack or item does not exist.
var ErrNotFound = errors.New("index: not found")

// Kind discriminates the content item variants. One loosely-typed record
// with many optional fields is exactly what this schema replaces.
type Kind string

const (
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindSample Kind = "sample"
)

// ContentItem is one media asset belonging to a pack. Key is the opaque
// storage locator and never changes after creation.
type ContentItem struct {
	Key             string    `json:"key"`
	Name            string    `json:"name"`
	MimeType        string    `json:"mimeType"`
	SizeBytes       int64     `json:"sizeBytes"`
	Kind            Kind      `json:"kind"`
	Processed       bool      `json:"processed"`
	ProcessingError string    `json:"processingError,omitempty"`
	UploadedAt      time.Time `json:"uploadedAt"`
	VendorID        string    `json:"vendorId"`
	VendorUsername  string    `json:"vendorUsername"`
}

// IsVideo reports whether the item takes the video bake path.
func (c ContentItem) IsVideo() bool { return c.Kind == KindVideo }

// Store is the content-index surface the core depends on. *PG implements it
// against Postgres; tests inject a fake.
type Store interface {
	// Pack returns the ordered content list for a pack. ErrNotFound if the
	// pack has no entries.
	Pack(ctx context.Context, packID string) ([]ContentItem, error)
	// Item returns a single entry by pack and key.
	Item(ctx context.Context, packID, key string) (ContentItem, error)
	// AppendItem adds an entry at the end of the pack's list.
	AppendItem(ctx context.Context, packID string, item ContentItem) error
	// MarkProcessed flips processed=true and clears any prior error.
	MarkProcessed(ctx context.Context, packID, key string) error
	// MarkFailed records a processing error, leaving processed=false.
	MarkFailed(ctx context.Context, packID, key, reason string) error
}

// PG is the Postgres-backed content index store.
type PG struct {
	db *sql.DB
}

// NewPG wraps an open database handle.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

// Connect opens and pings a Postgres connection with sane pool limits.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("index: ping db: %w", err)
	}
	return db, nil
}

// Pack returns the ordered content list for a pack.
func (s *PG) Pack(ctx context.Context, packID string) ([]ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, name, mime_type, size_bytes, kind, processed,
		       COALESCE(processing_error, ''), uploaded_at, vendor_id, vendor_username
		FROM pack_content
		WHERE pack_id = $1
		ORDER BY position
	`, packID)
	if err != nil {
		return nil, fmt.Errorf("index: query pack %q: %w", packID, err)
	}
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		var it ContentItem
		if err := rows.Scan(&it.Key, &it.Name, &it.MimeType, &it.SizeBytes, &it.Kind,
			&it.Processed, &it.ProcessingError, &it.UploadedAt, &it.VendorID, &it.VendorUsername); err != nil {
			return nil, fmt.Errorf("index: scan pack %q: %w", packID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate pack %q: %w", packID, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("index: pack %q: %w", packID, ErrNotFound)
	}
	return items, nil
}

// Item returns a single entry by pack and key.
func (s *PG) Item(ctx context.Context, packID, key string) (ContentItem, error) {
	var it ContentItem
	err := s.db.QueryRowContext(ctx, `
		SELECT key, name, mime_type, size_bytes, kind, processed,
		       COALESCE(processing_error, ''), uploaded_at, vendor_id, vendor_username
		FROM pack_content
		WHERE pack_id = $1 AND key = $2
	`, packID, key).Scan(&it.Key, &it.Name, &it.MimeType, &it.SizeBytes, &it.Kind,
		&it.Processed, &it.ProcessingError, &it.UploadedAt, &it.VendorID, &it.VendorUsername)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, fmt.Errorf("index: item %q/%q: %w", packID, key, ErrNotFound)
	}
	if err != nil {
		return ContentItem{}, fmt.Errorf("index: item %q/%q: %w", packID, key, err)
	}
	return it, nil
}

// AppendItem adds an entry at the end of the pack's list. Re-confirming an
// upload for an existing key refreshes the metadata fields instead of
// duplicating the entry.
func (s *PG) AppendItem(ctx context.Context, packID string, item ContentItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pack_content
			(pack_id, position, key, name, mime_type, size_bytes, kind, processed, uploaded_at, vendor_id, vendor_username)
		VALUES
			($1,
			 (SELECT COALESCE(MAX(position), -1) + 1 FROM pack_content WHERE pack_id = $1),
			 $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pack_id, key) DO UPDATE
			SET name = EXCLUDED.name,
			    mime_type = EXCLUDED.mime_type,
			    size_bytes = EXCLUDED.size_bytes
	`, packID, item.Key, item.Name, item.MimeType, item.SizeBytes, item.Kind,
		item.Processed, item.UploadedAt, item.VendorID, item.VendorUsername)
	if err != nil {
		return fmt.Errorf("index: append %q/%q: %w", packID, item.Key, err)
	}
	return nil
}

// MarkProcessed flips processed=true and clears any prior error.
func (s *PG) MarkProcessed(ctx context.Context, packID, key string) error {
	return s.setProcessed(ctx, packID, key, true, "")
}

// MarkFailed records a processing error, leaving processed=false so an
// operator can retrigger the bake.
func (s *PG) MarkFailed(ctx context.Context, packID, key, reason string) error {
	return s.setProcessed(ctx, packID, key, false, reason)
}

func (s *PG) setProcessed(ctx context.Context, packID, key string, processed bool, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pack_content
		SET processed = $1, processing_error = NULLIF($2, ''), updated_at = NOW()
		WHERE pack_id = $3 AND key = $4
	`, processed, reason, packID, key)
	if err != nil {
		return fmt.Errorf("index: update %q/%q: %w", packID, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: update %q/%q: %w", packID, key, ErrNotFound)
	}
	return nil
}
