package artifacts_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/objectstore"
)

func newRegistry(t *testing.T, opts ...func(*artifacts.Options)) *artifacts.Registry {
	t.Helper()
	o := artifacts.Options{Root: filepath.Join(t.TempDir(), "registry")}
	for _, opt := range opts {
		opt(&o)
	}
	reg, err := artifacts.New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRegisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "scene.png")
	writeFile(t, path, "x")

	v, err := reg.Register(ctx, path, "image", "job-1", artifacts.WithMetadata(map[string]any{"prompt": "sunset", "seed": 7}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if v.Degraded() || len(v.Hash) != 64 {
		t.Fatalf("expected full hash, got %q", v.Hash)
	}
	if !strings.HasPrefix(v.VersionID, v.Hash[:12]+"_") {
		t.Fatalf("version id %q should start with hash prefix", v.VersionID)
	}

	got, ok, err := reg.Version(path, v.VersionID)
	if err != nil || !ok {
		t.Fatalf("Version: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, v)
	}
	if readFile(t, reg.ContentPath(v)) != "x" {
		t.Fatal("content copy does not hold registered bytes")
	}
	if filepath.Ext(reg.ContentPath(v)) != ".png" {
		t.Fatalf("content copy should keep extension, got %s", reg.ContentPath(v))
	}
}

func TestIndexLayout(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "voice.mp3")
	writeFile(t, path, "audio")
	v, err := reg.Register(ctx, path, "audio", "job-9")
	if err != nil {
		t.Fatal(err)
	}
	missing, err := reg.Register(ctx, filepath.Join(t.TempDir(), "absent.mp4"), "video", "job-9", artifacts.WithParent(v.VersionID))
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string][]map[string]any
	if err := json.Unmarshal([]byte(readFile(t, reg.IndexPath())), &raw); err != nil {
		t.Fatalf("index is not JSON: %v", err)
	}
	records := raw[v.Path]
	if len(records) != 1 {
		t.Fatalf("expected one record for %s, got %v", v.Path, raw)
	}
	for _, key := range []string{"version_id", "path", "type", "hash", "timestamp", "job_id", "parent_version_id", "metadata"} {
		if _, ok := records[0][key]; !ok {
			t.Fatalf("record missing %q: %v", key, records[0])
		}
	}
	if records[0]["parent_version_id"] != nil {
		t.Fatalf("expected null parent, got %v", records[0]["parent_version_id"])
	}
	degraded := raw[missing.Path][0]
	if degraded["hash"] != nil || !strings.HasPrefix(degraded["version_id"].(string), "missing_") {
		t.Fatalf("unexpected degraded record %v", degraded)
	}
	if degraded["parent_version_id"] != v.VersionID {
		t.Fatalf("unexpected parent %v", degraded["parent_version_id"])
	}
}

func TestRegisterMissingFileIsDegraded(t *testing.T) {
	reg := newRegistry(t)
	v, err := reg.Register(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), "audio", "job")
	if err != nil {
		t.Fatalf("Register should tolerate missing file: %v", err)
	}
	if !v.Degraded() {
		t.Fatal("expected degraded version")
	}
	if _, err := os.Stat(reg.ContentPath(v)); !os.IsNotExist(err) {
		t.Fatal("no content copy expected for missing source")
	}
	if _, err := reg.Verify(v.Path, v.VersionID); !errors.Is(err, artifacts.ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestVersionsOrderAndUnknownPath(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "script.txt")
	var ids []string
	for _, body := range []string{"a", "b", "c"} {
		writeFile(t, path, body)
		v, err := reg.Register(ctx, path, "text", "job")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, v.VersionID)
	}
	versions, err := reg.Versions(path)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range versions {
		if v.VersionID != ids[i] {
			t.Fatalf("version %d: expected %s got %s", i, ids[i], v.VersionID)
		}
	}
	latest, ok, _ := reg.Latest(path)
	if !ok || latest.VersionID != ids[2] {
		t.Fatalf("unexpected latest %+v", latest)
	}

	empty, err := reg.Versions(filepath.Join(t.TempDir(), "never"))
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v %v", empty, err)
	}
	if _, ok, _ := reg.Version(path, "unknown"); ok {
		t.Fatal("unknown version id should be absent")
	}
}

func TestRollbackScenario(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "A.txt")

	writeFile(t, path, "x")
	v1, err := reg.Register(ctx, path, "text", "job")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "y")
	v2, err := reg.Register(ctx, path, "text", "job", artifacts.WithParent(v1.VersionID))
	if err != nil {
		t.Fatal(err)
	}

	ok, err := reg.Rollback(ctx, path, v1.VersionID)
	if err != nil || !ok {
		t.Fatalf("Rollback: ok=%v err=%v", ok, err)
	}
	if got := readFile(t, path); got != "x" {
		t.Fatalf("expected restored content x, got %q", got)
	}

	versions, err := reg.Versions(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	backup := versions[2]
	if backup.Metadata[artifacts.MetaRollbackBackup] != true || backup.Metadata[artifacts.MetaRolledBackTo] != v1.VersionID {
		t.Fatalf("unexpected backup metadata %v", backup.Metadata)
	}
	if backup.ParentVersionID != v2.VersionID || backup.Hash != v2.Hash {
		t.Fatalf("backup should capture the pre-rollback state: %+v", backup)
	}

	// The rollback itself is recoverable.
	ok, err = reg.Rollback(ctx, path, backup.VersionID)
	if err != nil || !ok {
		t.Fatalf("undo rollback: ok=%v err=%v", ok, err)
	}
	if got := readFile(t, path); got != "y" {
		t.Fatalf("expected y after undo, got %q", got)
	}
}

func TestDefaultOptionsKeepContentCopies(t *testing.T) {
	ctx := context.Background()
	reg, err := artifacts.New(artifacts.Options{Root: filepath.Join(t.TempDir(), "registry")})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "A.txt")

	writeFile(t, path, "x")
	v1, err := reg.Register(ctx, path, "text", "job")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(reg.ContentPath(v1)); err != nil {
		t.Fatalf("expected a content copy by default: %v", err)
	}
	writeFile(t, path, "y")
	if _, err := reg.Register(ctx, path, "text", "job", artifacts.WithParent(v1.VersionID)); err != nil {
		t.Fatal(err)
	}

	ok, err := reg.Rollback(ctx, path, v1.VersionID)
	if err != nil || !ok {
		t.Fatalf("Rollback: ok=%v err=%v", ok, err)
	}
	if got := readFile(t, path); got != "x" {
		t.Fatalf("expected restored content x, got %q", got)
	}
	if versions, _ := reg.Versions(path); len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
}

func TestDisableCopiesSkipsContent(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, func(o *artifacts.Options) { o.DisableCopies = true })
	path := filepath.Join(t.TempDir(), "A.txt")
	writeFile(t, path, "x")

	plain, err := reg.Register(ctx, path, "text", "job")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(reg.ContentPath(plain)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no content copy, stat err=%v", err)
	}
	kept, err := reg.Register(ctx, path, "text", "job", artifacts.WithStoreCopy(true))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(reg.ContentPath(kept)); err != nil {
		t.Fatalf("per-call override should store a copy: %v", err)
	}
}

func TestRelativeIndexKeysStayReachable(t *testing.T) {
	ctx := context.Background()
	work := t.TempDir()
	t.Chdir(work)
	root := filepath.Join(work, "registry")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	old := `{"out/a.png": [{"version_id": "abc_1", "path": "out/a.png", "type": "image", "hash": "abc", "timestamp": "2025-01-02T03:04:05.123456", "job_id": "j", "parent_version_id": null, "metadata": {}}]}`
	writeFile(t, filepath.Join(root, "index.json"), old)
	writeFile(t, filepath.Join(work, "out", "a.png"), "pixels")

	reg, err := artifacts.New(artifacts.Options{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if versions, err := reg.Versions("out/a.png"); err != nil || len(versions) != 1 {
		t.Fatalf("Versions: %v %v", versions, err)
	}
	if _, ok, err := reg.Version("./out/a.png", "abc_1"); err != nil || !ok {
		t.Fatalf("Version: %v %v", ok, err)
	}
	v2, err := reg.Register(ctx, "out/a.png", "image", "j", artifacts.WithParent("abc_1"))
	if err != nil {
		t.Fatal(err)
	}
	lineage, err := reg.Lineage("out/a.png")
	if err != nil || len(lineage) != 2 || lineage[0].VersionID != v2.VersionID {
		t.Fatalf("Lineage: %v %v", lineage, err)
	}

	var onDisk map[string][]json.RawMessage
	if err := json.Unmarshal([]byte(readFile(t, reg.IndexPath())), &onDisk); err != nil {
		t.Fatal(err)
	}
	if len(onDisk) != 1 || len(onDisk["out/a.png"]) != 2 {
		t.Fatalf("history should stay under the original key: %v", onDisk)
	}
}

func TestRollbackMissesReturnFalse(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	writeFile(t, path, "frames")

	ok, err := reg.Rollback(ctx, path, "does-not-exist")
	if err != nil || ok {
		t.Fatalf("unknown version: ok=%v err=%v", ok, err)
	}

	v, err := reg.Register(ctx, path, "video", "job", artifacts.WithStoreCopy(false))
	if err != nil {
		t.Fatal(err)
	}
	ok, err = reg.Rollback(ctx, path, v.VersionID)
	if err != nil || ok {
		t.Fatalf("no content copy: ok=%v err=%v", ok, err)
	}
	versions, _ := reg.Versions(path)
	if len(versions) != 1 {
		t.Fatalf("a missed rollback must not add versions, got %d", len(versions))
	}
}

func TestRollbackRecreatesDeletedLiveFile(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "thumb.jpg")
	writeFile(t, path, "jpeg")
	v, err := reg.Register(ctx, path, "image", "job")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	ok, err := reg.Rollback(ctx, path, v.VersionID)
	if err != nil || !ok {
		t.Fatalf("Rollback: ok=%v err=%v", ok, err)
	}
	if readFile(t, path) != "jpeg" {
		t.Fatal("expected live file restored")
	}
	versions, _ := reg.Versions(path)
	if len(versions) != 1 {
		t.Fatalf("no backup expected when the live file is absent, got %d", len(versions))
	}
}

func TestRollbackFallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	reg := newRegistry(t, func(o *artifacts.Options) { o.Mirror = objectstore.NewMirror(store, "copies") })
	path := filepath.Join(t.TempDir(), "music.flac")
	writeFile(t, path, "v1")
	v1, err := reg.Register(ctx, path, "audio", "job")
	if err != nil {
		t.Fatal(err)
	}
	if len(store.Keys()) != 1 {
		t.Fatalf("expected mirrored copy, got keys %v", store.Keys())
	}

	if err := os.Remove(reg.ContentPath(v1)); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "v2")
	ok, err := reg.Rollback(ctx, path, v1.VersionID)
	if err != nil || !ok {
		t.Fatalf("Rollback via mirror: ok=%v err=%v", ok, err)
	}
	if readFile(t, path) != "v1" {
		t.Fatal("expected content fetched from mirror")
	}
}

func TestLineage(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "edit.mp4")

	var chain []artifacts.Version
	parent := ""
	for _, body := range []string{"cut1", "cut2", "cut3"} {
		writeFile(t, path, body)
		v, err := reg.Register(ctx, path, "video", "job", artifacts.WithParent(parent))
		if err != nil {
			t.Fatal(err)
		}
		chain = append(chain, v)
		parent = v.VersionID
	}

	lineage, err := reg.Lineage(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lineage) != 3 {
		t.Fatalf("expected 3 versions in lineage, got %d", len(lineage))
	}
	for i := range lineage {
		if lineage[i].VersionID != chain[2-i].VersionID {
			t.Fatalf("lineage %d: expected %s got %s", i, chain[2-i].VersionID, lineage[i].VersionID)
		}
	}
}

func TestLineageStopsAtUnknownParentAndCrossesPaths(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw.wav")
	mixed := filepath.Join(dir, "mixed.wav")
	writeFile(t, raw, "raw")
	writeFile(t, mixed, "mixed")

	rawV, _ := reg.Register(ctx, raw, "audio", "job", artifacts.WithParent("ghost"))
	mixedV, _ := reg.Register(ctx, mixed, "audio", "job", artifacts.WithParent(rawV.VersionID))

	lineage, err := reg.Lineage(mixed)
	if err != nil {
		t.Fatal(err)
	}
	if len(lineage) != 2 || lineage[0].VersionID != mixedV.VersionID || lineage[1].VersionID != rawV.VersionID {
		t.Fatalf("unexpected lineage %+v", lineage)
	}
	if none, _ := reg.Lineage(filepath.Join(dir, "unknown")); len(none) != 0 {
		t.Fatal("expected empty lineage for unknown path")
	}
}

func TestVersionIDCollisionsAreBumped(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newRegistry(t, func(o *artifacts.Options) { o.Now = func() time.Time { return fixed } })
	path := filepath.Join(t.TempDir(), "same.txt")
	writeFile(t, path, "same")

	a, err := reg.Register(context.Background(), path, "text", "job")
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.Register(context.Background(), path, "text", "job")
	if err != nil {
		t.Fatal(err)
	}
	if a.VersionID == b.VersionID {
		t.Fatal("expected distinct version ids")
	}
	if !strings.HasSuffix(a.VersionID, "_20260301T120000000000") || !strings.HasSuffix(b.VersionID, "_20260301T120000000001") {
		t.Fatalf("unexpected ids %s %s", a.VersionID, b.VersionID)
	}
}

func TestConcurrentRegistrationsAreSerialized(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	dir := t.TempDir()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			path := filepath.Join(dir, "asset", string(rune('a'+n))+".bin")
			writeFile(t, path, path)
			if _, err := reg.Register(ctx, path, "image", "job"); err != nil {
				t.Errorf("Register: %v", err)
			}
		}(i)
	}
	wg.Wait()

	paths, err := reg.Paths()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 16 {
		t.Fatalf("expected 16 tracked paths, got %d", len(paths))
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "frame.png")
	writeFile(t, path, "pixels")
	v, err := reg.Register(ctx, path, "image", "job")
	if err != nil {
		t.Fatal(err)
	}
	result, err := reg.Verify(path, v.VersionID)
	if err != nil || !result.OK() {
		t.Fatalf("expected verified copy, got %+v %v", result, err)
	}

	copyPath := reg.ContentPath(v)
	if err := os.Chmod(copyPath, 0o644); err != nil {
		t.Fatal(err)
	}
	writeFile(t, copyPath, "tampered")
	result, err = reg.Verify(path, v.VersionID)
	if err != nil || result.OK() {
		t.Fatalf("expected mismatch, got %+v %v", result, err)
	}
	if _, err := reg.Verify(path, "nope"); !errors.Is(err, artifacts.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestReadsLegacyTimestamps(t *testing.T) {
	root := filepath.Join(t.TempDir(), "registry")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	legacy := `{"/tmp/a.txt": [{"version_id": "abc_1", "path": "/tmp/a.txt", "type": "text", "hash": "abc", "timestamp": "2025-01-02T03:04:05.123456", "job_id": "j", "parent_version_id": null, "metadata": {}}]}`
	writeFile(t, filepath.Join(root, "index.json"), legacy)
	reg, err := artifacts.New(artifacts.Options{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	v, ok, err := reg.Version("/tmp/a.txt", "abc_1")
	if err != nil || !ok {
		t.Fatalf("Version: %v %v", ok, err)
	}
	want := time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.UTC)
	if !v.CreatedAt.Equal(want) || v.ParentVersionID != "" {
		t.Fatalf("unexpected legacy decode %+v", v)
	}
}
