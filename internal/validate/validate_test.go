package validate_test

import (
	"testing"

	"github.com/packseal/packseal/internal/validate"
)

func TestNonEmptyString(t *testing.T) {
	if err := validate.NonEmptyString("name", "hello"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.NonEmptyString("name", "   "); err == nil {
		t.Error("expected error for whitespace-only string")
	}
	if err := validate.NonEmptyString("name", ""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestMaxLength(t *testing.T) {
	if err := validate.MaxLength("name", "hello", 10); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.MaxLength("name", "hello world!", 5); err == nil {
		t.Error("expected error for too-long string")
	}
}

func TestIsUUID(t *testing.T) {
	if err := validate.IsUUID("id", "550e8400-e29b-41d4-a716-446655440000"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.IsUUID("id", "not-a-uuid"); err == nil {
		t.Error("expected error for invalid UUID")
	}
	if err := validate.IsUUID("id", "' OR 1=1 --"); err == nil {
		t.Error("expected error for SQL injection string")
	}
}

func TestIsAlphanumericSlug(t *testing.T) {
	if err := validate.IsAlphanumericSlug("username", "alice-99"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.IsAlphanumericSlug("username", "-leading"); err == nil {
		t.Error("expected error for leading hyphen")
	}
	if err := validate.IsAlphanumericSlug("username", "a/b"); err == nil {
		t.Error("expected error for slash")
	}
}

func TestNoPathTraversal(t *testing.T) {
	if err := validate.NoPathTraversal("key", "packs/p1/videos/safe-file.mp4"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.NoPathTraversal("key", "../../../etc/passwd"); err == nil {
		t.Error("expected error for path traversal")
	}
	if err := validate.NoPathTraversal("key", "file\x00name"); err == nil {
		t.Error("expected error for null byte")
	}
}

func TestIntInRange(t *testing.T) {
	if err := validate.IntInRange("expiresIn", 5, 1, 10); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.IntInRange("expiresIn", 0, 1, 10); err == nil {
		t.Error("expected error for below minimum")
	}
	if err := validate.IntInRange("expiresIn", 100, 1, 10); err == nil {
		t.Error("expected error for above maximum")
	}
}

func TestMultiError(t *testing.T) {
	var me validate.MultiError
	if me.HasErrors() {
		t.Error("expected no errors initially")
	}
	me.Add(validate.NonEmptyString("name", ""))
	me.Add(validate.IsUUID("id", "bad"))
	me.Add(nil) // should be no-op
	if !me.HasErrors() {
		t.Error("expected errors after adding")
	}
	if len(me.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(me.Errors))
	}
}
