package testsupport

import (
	"context"
	"testing"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/config"
	"reelsmith/internal/jobstore"
)

// MustOpenStore opens a jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates an initialized job row for tests.
func NewJob(t testing.TB, store *jobstore.Store, id, topic string) *jobstore.Job {
	t.Helper()

	job, err := store.Create(context.Background(), jobstore.Job{ID: id, Topic: topic, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

// MustOpenRegistry opens the artifact registry described by cfg.
func MustOpenRegistry(t testing.TB, cfg *config.Config) *artifacts.Registry {
	t.Helper()

	reg, err := artifacts.New(artifacts.Options{
		Root:          cfg.Paths.RegistryDir,
		IndexFile:     cfg.Registry.IndexFile,
		DisableCopies: !cfg.Registry.StoreCopies,
	})
	if err != nil {
		t.Fatalf("artifacts.New: %v", err)
	}
	return reg
}
