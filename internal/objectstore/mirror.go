package objectstore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Mirror copies whole files to and from a Store under a key prefix.
type Mirror struct {
	store  Store
	prefix string
}

// NewMirror binds store with keys rooted at prefix.
func NewMirror(store Store, prefix string) *Mirror {
	return &Mirror{store: store, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}
}

// Key returns the object key for name.
func (m *Mirror) Key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Upload stores the file at localPath as name.
func (m *Mirror) Upload(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := m.store.Put(ctx, m.Key(name), f, info.Size(), contentType); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Download writes object name to dest through a temporary sibling file.
func (m *Mirror) Download(ctx context.Context, name, dest string) error {
	body, _, err := m.store.Get(ctx, m.Key(name))
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("download %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Exists reports whether object name is present.
func (m *Mirror) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := m.store.Stat(ctx, m.Key(name)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
