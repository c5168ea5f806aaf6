package memory

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "reports/r1.json", "application/json", bytes.NewReader([]byte(`{"id":"r1"}`)))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://reports/r1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	data, err := store.GetObject(ctx, "reports/r1.json")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if contentType := store.ContentType("reports/r1.json"); string(data) != `{"id":"r1"}` || contentType != "application/json" {
		t.Fatalf("unexpected object %q (%s)", data, contentType)
	}
	data[0] = 'X'
	again, _ := store.GetObject(ctx, "reports/r1.json")
	if again[0] != '{' {
		t.Fatal("expected GetObject to return a copy")
	}
	if keys := store.Keys(); len(keys) != 1 || keys[0] != "reports/r1.json" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestBlobStoreRejectsEmptyPathAndMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected empty path error")
	}
	if _, err := store.GetObject(context.Background(), "nope"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestBlobStoreListAndDelete(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"reports/b.json", "reports/a.json", "other/c.json"} {
		if _, err := store.PutObject(ctx, p, "application/json", bytes.NewReader([]byte("{}"))); err != nil {
			t.Fatalf("PutObject(%s) error = %v", p, err)
		}
	}
	listed, err := store.ListObjects(ctx, "reports/")
	if err != nil {
		t.Fatalf("ListObjects() error = %v", err)
	}
	if len(listed) != 2 || listed[0] != "reports/a.json" || listed[1] != "reports/b.json" {
		t.Fatalf("unexpected listing %v", listed)
	}
	if err := store.DeleteObject(ctx, "reports/a.json"); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}
	if err := store.DeleteObject(ctx, "reports/a.json"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
	if all, _ := store.ListObjects(ctx, ""); len(all) != 2 {
		t.Fatalf("unexpected listing after delete %v", all)
	}
	if ct := store.ContentType("reports/a.json"); ct != "" {
		t.Fatalf("expected content type to be dropped, got %q", ct)
	}
}
