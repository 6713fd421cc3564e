package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteString writes content to path, creating parent directories.
func WriteString(t testing.TB, path, content string) {
	t.Helper()
	writeFile(t, path, content, 0o644)
}

// ReadString returns the content of path.
func ReadString(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// StubBinaries installs script as an executable named after each of names in
// dir, then puts dir first on PATH until the test ends.
func StubBinaries(t testing.TB, dir, script string, names ...string) {
	t.Helper()
	for _, name := range names {
		writeFile(t, filepath.Join(dir, name), script, 0o755)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func writeFile(t testing.TB, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
