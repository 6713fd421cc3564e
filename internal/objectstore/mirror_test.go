package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelsmith/internal/config"
)

func TestMirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mirror := NewMirror(store, "/reels/")

	dir := t.TempDir()
	src := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(src, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mirror.Upload(ctx, "abc_1.png", src); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	info, err := store.Stat(ctx, "reels/abc_1.png")
	if err != nil {
		t.Fatalf("expected prefixed key: %v (keys %v)", err, store.Keys())
	}
	if info.ContentType != "image/png" || info.Size != 9 {
		t.Fatalf("unexpected object info %+v", info)
	}

	dest := filepath.Join(dir, "restored", "frame.png")
	if err := mirror.Download(ctx, "abc_1.png", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "png-bytes" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestMirrorMissingObject(t *testing.T) {
	mirror := NewMirror(NewMemoryStore(), "")
	ok, err := mirror.Exists(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	err = mirror.Download(context.Background(), "nope", filepath.Join(t.TempDir(), "x"))
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewMinIOClientRequiresEndpoint(t *testing.T) {
	if _, err := NewMinIOClient(config.Mirror{}); err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}
	client, err := NewMinIOClient(config.Mirror{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "reels"})
	if err != nil || client == nil {
		t.Fatalf("expected client, got %v", err)
	}
	if _, err := NewMinioStoreWithClient(nil, "reels"); err == nil {
		t.Fatal("expected error for nil client")
	}
}
